package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pantierra/efast-tool/internal/clouds"
	"github.com/pantierra/efast-tool/internal/imagery"
	"github.com/pantierra/efast-tool/internal/prepare"
	"github.com/pantierra/efast-tool/internal/store"
)

// preparePlan is the work list of one prepare run, derived from the
// raw scene listings and the cloud verdicts. Units are slots: one per
// fine scene date, one per coarse composite date.
type preparePlan struct {
	ref    string              // reference coarse scene, absolute
	fine   map[string]string   // date key -> cloud free fine scene name
	coarse map[string][]string // date key -> cloud free coarse scene paths
}

func (p preparePlan) expected() int {
	return len(p.fine) + len(p.coarse)
}

func (r *Runner) preparePlanFor(st *runState) (preparePlan, error) {
	plan := preparePlan{
		fine:   make(map[string]string),
		coarse: make(map[string][]string),
	}

	var verdicts clouds.File
	if r.gating {
		if err := store.ReadJSON(st.layout.CloudsFile(), &verdicts); err != nil {
			return plan, fmt.Errorf("read cloud verdicts: %w", err)
		}
	}
	cloudyFine := verdicts.Cloudy(string(store.S2))
	cloudyCoarse := verdicts.Cloudy(string(store.S3))

	fine, err := store.ListFiles(st.layout.RawScenes(store.S2), ".geotiff")
	if err != nil {
		return plan, err
	}
	for _, name := range fine {
		if cloudyFine[name] {
			continue
		}
		date, err := sceneDate(name)
		if err != nil {
			return plan, err
		}
		if _, dup := plan.fine[date]; dup {
			continue
		}
		plan.fine[date] = name
	}

	coarse, err := store.ListFiles(st.layout.RawScenes(store.S3), ".geotiff")
	if err != nil {
		return plan, err
	}
	for _, name := range coarse {
		if cloudyCoarse[name] {
			continue
		}
		date, err := sceneDate(name)
		if err != nil {
			return plan, err
		}
		path := filepath.Join(st.layout.RawScenes(store.S3), name)
		if plan.ref == "" {
			plan.ref = path
		}
		plan.coarse[date] = append(plan.coarse[date], path)
	}
	return plan, nil
}

func sceneDate(name string) (string, error) {
	t, ok := imagery.FileDate(name)
	if !ok {
		return "", fmt.Errorf("scene %s carries no acquisition date", name)
	}
	return imagery.DateKey(t), nil
}

// runPrepare resamples the cloud free scenes of both sensors onto the
// shared dataset grids: fine reflectance plus its cloud distance
// companion per fine date, one composite per coarse date. The grid of
// the first cloud free coarse scene defines the coarse grid; the fine
// grid is that grid refined by the resolution ratio.
func (r *Runner) runPrepare(ctx context.Context, st *runState) (stageOutcome, error) {
	var out stageOutcome

	plan, err := r.preparePlanFor(st)
	if err != nil {
		return out, &DataIntegrityError{Err: err}
	}
	out.expected = plan.expected()
	if len(plan.coarse) == 0 {
		return out, integrityf("no cloud free %s scenes to derive the reference grid from", store.S3)
	}

	coarseGrid, fineGrid, err := r.preparer.ReferenceGrids(plan.ref)
	if err != nil {
		return out, &DataIntegrityError{Err: err}
	}

	fineDir := st.layout.Prepared(store.S2)
	coarseDir := st.layout.Prepared(store.S3)

	fineFiles := make(map[string]string, len(plan.fine))
	keepFine := make(map[string]bool, 2*len(plan.fine))
	for _, date := range sortedKeys(plan.fine) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		scene := filepath.Join(st.layout.RawScenes(store.S2), plan.fine[date])
		refl := filepath.Join(fineDir, prepare.FineName(date))
		if !store.NonEmpty(refl) {
			if err := r.preparer.PrepareFine(scene, refl, fineGrid); err != nil {
				return out, integrityf("prepare %s: %w", plan.fine[date], err)
			}
		}
		dist := filepath.Join(fineDir, prepare.CloudDistanceName(date))
		if !store.NonEmpty(dist) {
			if err := r.preparer.CloudDistance(refl, dist, coarseGrid); err != nil {
				return out, integrityf("cloud distance for %s: %w", prepare.FineName(date), err)
			}
		}
		fineFiles[date] = prepare.FineName(date)
		keepFine[prepare.FineName(date)] = true
		keepFine[prepare.CloudDistanceName(date)] = true
		out.units++
	}

	coarseFiles := make(map[string]string, len(plan.coarse))
	keepCoarse := make(map[string]bool, len(plan.coarse))
	for _, date := range sortedKeys(plan.coarse) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		dst := filepath.Join(coarseDir, prepare.CompositeName(date))
		if !store.NonEmpty(dst) {
			if err := r.preparer.Composite(plan.coarse[date], dst, coarseGrid); err != nil {
				return out, integrityf("composite %s: %w", date, err)
			}
		}
		coarseFiles[date] = prepare.CompositeName(date)
		keepCoarse[prepare.CompositeName(date)] = true
		out.units++
	}

	// Prepared rasters for dates that fell out of the plan are stale.
	if err := removeStale(fineDir, keepFine, ".tif"); err != nil {
		return out, &DataIntegrityError{Err: err}
	}
	if err := removeStale(coarseDir, keepCoarse, ".tif"); err != nil {
		return out, &DataIntegrityError{Err: err}
	}

	// Everything this stage leaves behind has to sit on the grid its
	// dataset index claims.
	distFiles := make([]string, 0, len(fineFiles))
	for _, date := range sortedKeys(fineFiles) {
		distFiles = append(distFiles, prepare.CloudDistanceName(date))
	}
	if err := r.preparer.VerifyGrids(fineDir, sortedValues(fineFiles), fineGrid); err != nil {
		return out, &DataIntegrityError{Err: err}
	}
	if err := r.preparer.VerifyGrids(fineDir, distFiles, coarseGrid); err != nil {
		return out, &DataIntegrityError{Err: err}
	}
	if err := r.preparer.VerifyGrids(coarseDir, sortedValues(coarseFiles), coarseGrid); err != nil {
		return out, &DataIntegrityError{Err: err}
	}

	index := prepare.UnionDates(sortedKeys(fineFiles), sortedKeys(coarseFiles))
	fineSet := prepare.BuildIndex(string(store.S2), fineGrid, index, fineFiles)
	coarseSet := prepare.BuildIndex(string(store.S3), coarseGrid, index, coarseFiles)
	if err := store.WriteJSON(filepath.Join(fineDir, prepare.IndexFile), fineSet); err != nil {
		return out, &DataIntegrityError{Err: err}
	}
	if err := store.WriteJSON(filepath.Join(coarseDir, prepare.IndexFile), coarseSet); err != nil {
		return out, &DataIntegrityError{Err: err}
	}

	for name := range keepFine {
		out.manifest = append(out.manifest, st.layout.Rel(filepath.Join(fineDir, name)))
	}
	for name := range keepCoarse {
		out.manifest = append(out.manifest, st.layout.Rel(filepath.Join(coarseDir, name)))
	}
	out.manifest = append(out.manifest,
		st.layout.Rel(filepath.Join(fineDir, prepare.IndexFile)),
		st.layout.Rel(filepath.Join(coarseDir, prepare.IndexFile)),
	)
	return out, nil
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, date := range sortedKeys(m) {
		out = append(out, m[date])
	}
	return out
}
