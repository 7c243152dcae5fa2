package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pantierra/efast-tool/internal/ndvi"
	"github.com/pantierra/efast-tool/internal/prepare"
	"github.com/pantierra/efast-tool/internal/store"
)

// stageOutcome is what a stage execution leaves behind: the units
// present, the units wanted, and every output file relative to the
// season directory.
type stageOutcome struct {
	units    int
	expected int
	manifest []string
}

// forEachUnit runs fn over n units with at most workers in flight.
// Unit failures never abort sibling units; the function returns the
// number of units that succeeded and every unit error.
func forEachUnit(ctx context.Context, workers, n int, fn func(i int) error) (int, []error) {
	var (
		wg   sync.WaitGroup
		sem  = make(chan struct{}, workers)
		mu   sync.Mutex
		done int
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			err := ctx.Err()
			if err == nil {
				err = fn(i)
			}
			mu.Lock()
			if err != nil {
				errs = append(errs, err)
			} else {
				done++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return done, errs
}

// firstUnitError picks a deterministic representative from a batch of
// unit errors.
func firstUnitError(errs []error) error {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errs[0]
}

// inChainOrder filters the chain down to the requested stages,
// discarding duplicates.
func inChainOrder(stages []Stage) []Stage {
	want := make(map[Stage]bool, len(stages))
	for _, st := range stages {
		want[st] = true
	}
	var out []Stage
	for _, st := range chain {
		if want[st] {
			out = append(out, st)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// indexableFiles lists the rasters in dir that get an NDVI rendition.
func indexableFiles(dir string, suffixes ...string) ([]string, error) {
	names, err := store.ListFiles(dir, suffixes...)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		if _, ok := ndvi.OutputName(name); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func readTimeseries(dir string) ([]ndvi.Entry, error) {
	var entries []ndvi.Entry
	if err := store.ReadJSON(filepath.Join(dir, ndvi.TimeseriesFile), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func readDataset(dir string) (prepare.Dataset, error) {
	var ds prepare.Dataset
	if err := store.ReadJSON(filepath.Join(dir, prepare.IndexFile), &ds); err != nil {
		return prepare.Dataset{}, err
	}
	return ds, nil
}

// preparedRasterDirs lists the directories the fused_index stage draws
// its rasters from.
func preparedRasterDirs(layout store.Layout) []string {
	dirs := make([]string, 0, 3)
	for _, sensor := range store.Sensors() {
		dirs = append(dirs, layout.Prepared(sensor))
	}
	return append(dirs, layout.FusionDir())
}

// removeStale deletes files in dir carrying one of the suffixes that
// the current run no longer expects, so re-runs never leave orphaned
// artifacts behind for downstream stages or viewers to pick up.
func removeStale(dir string, keep map[string]bool, suffixes ...string) error {
	names, err := store.ListFiles(dir, suffixes...)
	if err != nil {
		return err
	}
	for _, name := range names {
		if keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
