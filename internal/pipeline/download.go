package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pantierra/efast-tool/internal/imagery"
	"github.com/pantierra/efast-tool/internal/store"
)

// runDownload lists both sensor catalogs for the season window and
// fetches every scene not yet in the store. Scene files are immutable
// once written, so a unit already present is never re-fetched.
func (r *Runner) runDownload(ctx context.Context, st *runState) (stageOutcome, error) {
	var out stageOutcome

	type unit struct {
		source imagery.Source
		entry  imagery.CatalogEntry
		dest   string
	}
	var units []unit

	q := imagery.Query{
		BBox:  st.site.BBox(r.bboxSize),
		Start: seasonStart(st.season),
		End:   seasonEnd(st.season),
	}
	for _, sensor := range store.Sensors() {
		source := r.sources[sensor]
		entries, err := source.Catalog(ctx, q)
		if err != nil {
			return out, &TransientUnitError{Err: fmt.Errorf("catalog %s: %w", sensor, err)}
		}
		dir := st.layout.RawScenes(sensor)
		for _, entry := range entries {
			dest := filepath.Join(dir, imagery.SceneFilename(entry))
			out.manifest = append(out.manifest, st.layout.Rel(dest))
			units = append(units, unit{source: source, entry: entry, dest: dest})
		}
	}
	out.expected = len(units)

	done, errs := forEachUnit(ctx, r.workers, len(units), func(i int) error {
		u := units[i]
		if store.NonEmpty(u.dest) {
			return nil
		}
		if _, err := u.source.Fetch(ctx, u.entry, u.dest); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(u.dest), err)
		}
		return nil
	})
	out.units = done
	if len(errs) > 0 {
		return out, &TransientUnitError{Done: done, Expected: out.expected, Err: firstUnitError(errs)}
	}
	return out, nil
}
