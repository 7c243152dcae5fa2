package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pantierra/efast-tool/internal/ndvi"
	"github.com/pantierra/efast-tool/internal/store"
)

// indexJob names one directory of rasters and the directory their NDVI
// renditions land in.
type indexJob struct {
	src      string
	dst      string
	suffixes []string
}

// runRawIndex derives an NDVI raster per downloaded scene and a time
// series of site samples per sensor.
func (r *Runner) runRawIndex(ctx context.Context, st *runState) (stageOutcome, error) {
	var jobs []indexJob
	for _, sensor := range store.Sensors() {
		jobs = append(jobs, indexJob{
			src:      st.layout.RawScenes(sensor),
			dst:      st.layout.RawNDVI(sensor),
			suffixes: []string{".geotiff"},
		})
	}
	return r.runIndex(ctx, st, jobs)
}

// runFusedIndex does the same over the prepared and fused rasters.
// Cloud distance companions carry no reflectance and are left out.
func (r *Runner) runFusedIndex(ctx context.Context, st *runState) (stageOutcome, error) {
	var jobs []indexJob
	for _, sensor := range store.Sensors() {
		jobs = append(jobs, indexJob{
			src:      st.layout.Prepared(sensor),
			dst:      st.layout.PreparedNDVI(sensor),
			suffixes: []string{".tif"},
		})
	}
	jobs = append(jobs, indexJob{
		src:      st.layout.FusionDir(),
		dst:      st.layout.PreparedNDVI(store.Fused),
		suffixes: []string{".tif"},
	})
	return r.runIndex(ctx, st, jobs)
}

func (r *Runner) runIndex(ctx context.Context, st *runState, jobs []indexJob) (stageOutcome, error) {
	var out stageOutcome

	type unit struct {
		src string
		dst string
	}
	var units []unit
	for _, job := range jobs {
		files, err := store.ListFiles(job.src, job.suffixes...)
		if err != nil {
			return out, &DataIntegrityError{Err: err}
		}
		expect := make(map[string]bool)
		for _, name := range files {
			outName, ok := ndvi.OutputName(name)
			if !ok {
				continue
			}
			expect[outName] = true
			out.manifest = append(out.manifest, st.layout.Rel(filepath.Join(job.dst, outName)))
			units = append(units, unit{
				src: filepath.Join(job.src, name),
				dst: filepath.Join(job.dst, outName),
			})
		}
		// Index rasters whose source is gone would resurrect deleted
		// scenes in the time series.
		if err := removeStale(job.dst, expect, ".geotiff"); err != nil {
			return out, &DataIntegrityError{Err: err}
		}
	}
	out.expected = len(units)

	done, errs := forEachUnit(ctx, r.workers, len(units), func(i int) error {
		u := units[i]
		if store.NonEmpty(u.dst) {
			return nil
		}
		if err := r.calc.Process(u.src, u.dst); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(u.src), err)
		}
		return nil
	})
	out.units = done
	if len(errs) > 0 {
		return out, &DataIntegrityError{Err: fmt.Errorf("%d of %d rasters failed: %w", len(errs), out.expected, firstUnitError(errs))}
	}

	for _, job := range jobs {
		if _, err := r.calc.WriteTimeseries(job.dst, st.site.Lon, st.site.Lat); err != nil {
			return out, &DataIntegrityError{Err: err}
		}
		out.manifest = append(out.manifest, st.layout.Rel(filepath.Join(job.dst, ndvi.TimeseriesFile)))
	}
	return out, nil
}
