package pipeline

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/pantierra/efast-tool/internal/fusion"
	"github.com/pantierra/efast-tool/internal/store"
)

// runFuse hands the two prepared datasets to the fusion invoker, which
// validates them, runs the external transform for every missing date
// and promotes outputs all or nothing. Input validation failures are
// data integrity problems; anything else out of the transform is an
// algorithm failure.
func (r *Runner) runFuse(ctx context.Context, st *runState) (stageOutcome, error) {
	var out stageOutcome

	coarse, err := readDataset(st.layout.Prepared(store.S3))
	if err != nil {
		return out, integrityf("read coarse dataset index: %w", err)
	}
	fine, err := readDataset(st.layout.Prepared(store.S2))
	if err != nil {
		return out, integrityf("read fine dataset index: %w", err)
	}
	out.expected = len(r.fusionWindow(coarse, fine))

	files, err := r.fusion.Fuse(ctx, fusion.Inputs{
		CoarseDir: st.layout.Prepared(store.S3),
		FineDir:   st.layout.Prepared(store.S2),
		OutDir:    st.layout.FusionDir(),
		Coarse:    coarse,
		Fine:      fine,
	})
	if err != nil {
		if errors.Is(err, fusion.ErrBadInput) {
			return out, &DataIntegrityError{Err: err}
		}
		return out, &AlgorithmError{Err: err}
	}
	out.units = len(files)

	keep := make(map[string]bool, len(files))
	for _, name := range files {
		keep[name] = true
		out.manifest = append(out.manifest, st.layout.Rel(filepath.Join(st.layout.FusionDir(), name)))
	}
	// Fused rasters for dates outside the current window are stale.
	if err := removeStale(st.layout.FusionDir(), keep, ".tif"); err != nil {
		return out, &DataIntegrityError{Err: err}
	}
	return out, nil
}
