// Package pipeline orchestrates the processing chain that turns raw
// satellite acquisitions into a fused, NDVI-indexed time series. Stages
// run strictly one at a time per (site, season); completion is
// witnessed by stage records, and every record is re-verified against
// the store before it is trusted, so repeated invocations are safe and
// resume exactly where the artifacts stop.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pantierra/efast-tool/internal/clouds"
	"github.com/pantierra/efast-tool/internal/fusion"
	"github.com/pantierra/efast-tool/internal/imagery"
	"github.com/pantierra/efast-tool/internal/ndvi"
	"github.com/pantierra/efast-tool/internal/prepare"
	"github.com/pantierra/efast-tool/internal/record"
	"github.com/pantierra/efast-tool/internal/store"
)

// Config wires a Runner. Store, Records and one source per sensor are
// required; the rest defaults to sensible values.
type Config struct {
	Store      *store.Store
	Records    record.Store
	Sources    []imagery.Source
	Calculator ndvi.Calculator
	Classifier clouds.Classifier
	Preparer   prepare.Preparer
	Fusion     fusion.Invoker

	// BBoxSize is the query box edge length in degrees around the
	// site position.
	BBoxSize float64

	// CloudGating excludes cloud-flagged scenes from the prepare
	// stage input.
	CloudGating bool

	// Workers bounds per-unit concurrency inside a stage.
	Workers int

	Logger *slog.Logger
}

// Runner executes the stage chain for one (site, season) at a time.
// Distinct (site, season) pairs share nothing but the partitioned
// filesystem namespace, so separate Runners may run concurrently.
type Runner struct {
	store      *store.Store
	records    record.Store
	sources    map[store.Sensor]imagery.Source
	calc       ndvi.Calculator
	classifier clouds.Classifier
	preparer   prepare.Preparer
	fusion     fusion.Invoker
	bboxSize   float64
	gating     bool
	workers    int
	logger     *slog.Logger
}

// NewRunner validates the wiring and returns a ready Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	sources := make(map[store.Sensor]imagery.Source, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sensor := store.Sensor(src.Sensor())
		if _, dup := sources[sensor]; dup {
			return nil, fmt.Errorf("duplicate imagery source for sensor %s", sensor)
		}
		sources[sensor] = src
	}
	for _, sensor := range store.Sensors() {
		if _, ok := sources[sensor]; !ok {
			return nil, fmt.Errorf("no imagery source for sensor %s", sensor)
		}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	bbox := cfg.BBoxSize
	if bbox <= 0 {
		bbox = 0.009
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:      cfg.Store,
		records:    cfg.Records,
		sources:    sources,
		calc:       cfg.Calculator,
		classifier: cfg.Classifier,
		preparer:   cfg.Preparer,
		fusion:     cfg.Fusion,
		bboxSize:   bbox,
		gating:     cfg.CloudGating,
		workers:    workers,
		logger:     logger,
	}, nil
}

// runState carries the per-invocation context: the layout under the
// data root and the record validity memo for this run.
type runState struct {
	layout store.Layout
	site   Site
	season int
	runID  string
	valid  map[Stage]*record.StageRecord
}

// Run executes the requested stages in chain order. The returned error
// is non-nil only for configuration problems; everything a stage does
// or refuses to do is reported inside the Result. With no stages given
// the full chain runs.
func (r *Runner) Run(ctx context.Context, site Site, season int, stages ...Stage) (*Result, error) {
	if err := site.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if season < 1972 || season > 9999 {
		return nil, configf("season %d is not a plausible year", season)
	}
	if len(stages) == 0 {
		stages = Stages()
	} else {
		for _, stage := range stages {
			if !stage.known() {
				return nil, configf("unknown stage %q", string(stage))
			}
		}
		stages = inChainOrder(stages)
	}

	layout := r.store.Layout(site.Name, season)
	if err := layout.Ensure(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	res := &Result{Site: site.Name, Season: season, RunID: uuid.NewString()}
	st := &runState{
		layout: layout,
		site:   site,
		season: season,
		runID:  res.RunID,
		valid:  make(map[Stage]*record.StageRecord),
	}
	logger := r.logger.With(
		slog.String("site", site.Name),
		slog.Int("season", season),
		slog.String("run_id", res.RunID),
	)

	var failed Stage
	for _, stage := range stages {
		if failed != "" {
			res.Stages = append(res.Stages, StageResult{
				Stage:  stage,
				Status: StatusBlocked,
				Reason: fmt.Sprintf("%s failed earlier in this run", failed),
			})
			continue
		}
		sr := r.runStage(ctx, logger, st, stage)
		res.Stages = append(res.Stages, sr)
		if sr.Status == StatusFailed {
			failed = stage
		}
	}
	return res, nil
}

func (r *Runner) runStage(ctx context.Context, logger *slog.Logger, st *runState, stage Stage) StageResult {
	// Gate on the direct predecessor. The check recurses up the
	// chain, so a stale ancestor blocks everything below it.
	var parentRunID string
	if p, ok := prev(stage); ok {
		parent := r.validRecord(st, p)
		if parent == nil {
			return StageResult{
				Stage:  stage,
				Status: StatusBlocked,
				Reason: fmt.Sprintf("no valid %s record", p),
			}
		}
		parentRunID = parent.RunID
	}

	// A still-valid own record means there is nothing to do.
	if rec := r.validRecord(st, stage); rec != nil {
		logger.DebugContext(ctx, "stage already done", slog.String("stage", string(stage)))
		return StageResult{
			Stage:    stage,
			Status:   StatusSkipped,
			Units:    rec.ExpectedUnits,
			Expected: rec.ExpectedUnits,
		}
	}

	logger.InfoContext(ctx, "stage starting", slog.String("stage", string(stage)))
	start := time.Now()
	out, err := r.execute(ctx, st, stage)
	took := time.Since(start)
	if err != nil {
		logger.WarnContext(ctx, "stage failed",
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
		return StageResult{
			Stage:    stage,
			Status:   StatusFailed,
			Reason:   err.Error(),
			Units:    out.units,
			Expected: out.expected,
			Took:     took,
		}
	}

	sort.Strings(out.manifest)
	rec := record.StageRecord{
		Site:          st.site.Name,
		Season:        st.season,
		Stage:         string(stage),
		RunID:         st.runID,
		ParentRunID:   parentRunID,
		CompletedAt:   time.Now().UTC(),
		ExpectedUnits: out.expected,
		Manifest:      out.manifest,
	}
	if err := r.records.Put(rec); err != nil {
		return StageResult{
			Stage:    stage,
			Status:   StatusFailed,
			Reason:   fmt.Sprintf("write %s record: %v", stage, err),
			Units:    out.units,
			Expected: out.expected,
			Took:     took,
		}
	}
	st.valid[stage] = &rec

	logger.InfoContext(ctx, "stage completed",
		slog.String("stage", string(stage)),
		slog.Int("units", out.units),
		slog.Duration("took", took),
	)
	return StageResult{
		Stage:    stage,
		Status:   StatusCompleted,
		Units:    out.units,
		Expected: out.expected,
		Took:     took,
	}
}

func (r *Runner) execute(ctx context.Context, st *runState, stage Stage) (stageOutcome, error) {
	switch stage {
	case StageDownload:
		return r.runDownload(ctx, st)
	case StageRawIndex:
		return r.runRawIndex(ctx, st)
	case StageCloudDetect:
		return r.runCloudDetect(ctx, st)
	case StagePrepare:
		return r.runPrepare(ctx, st)
	case StageFuse:
		return r.runFuse(ctx, st)
	case StageFusedIndex:
		return r.runFusedIndex(ctx, st)
	}
	return stageOutcome{}, fmt.Errorf("unknown stage %q", string(stage))
}

// validRecord returns the stage's record when it still proves
// completion, nil otherwise. Results are memoized per run.
func (r *Runner) validRecord(st *runState, stage Stage) *record.StageRecord {
	if rec, ok := st.valid[stage]; ok {
		return rec
	}
	rec := r.checkRecord(st, stage)
	st.valid[stage] = rec
	return rec
}

// checkRecord re-verifies a stage record against the store: the parent
// chain must match run for run, every manifest file must exist
// non-empty, and the live unit expectation must not have drifted.
// Output files are re-verified on every invocation, never trusted.
func (r *Runner) checkRecord(st *runState, stage Stage) *record.StageRecord {
	rec, err := r.records.Get(st.site.Name, st.season, string(stage))
	if err != nil {
		return nil
	}
	if p, ok := prev(stage); ok {
		parent := r.validRecord(st, p)
		if parent == nil || rec.ParentRunID != parent.RunID {
			return nil
		}
	}
	if len(rec.Manifest) == 0 {
		return nil
	}
	for _, rel := range rec.Manifest {
		if !store.NonEmpty(st.layout.Abs(rel)) {
			return nil
		}
	}
	want, err := r.expectedUnits(st, stage, rec)
	if err != nil || want != rec.ExpectedUnits {
		return nil
	}
	return rec
}

// expectedUnits recomputes, from the store as it is right now, how
// many units the stage record should be covering.
func (r *Runner) expectedUnits(st *runState, stage Stage, rec *record.StageRecord) (int, error) {
	switch stage {
	case StageDownload:
		// There is no live source of truth short of re-querying the
		// catalog; the manifest check already pinned every scene.
		return rec.ExpectedUnits, nil
	case StageRawIndex:
		total := 0
		for _, sensor := range store.Sensors() {
			files, err := indexableFiles(st.layout.RawScenes(sensor), ".geotiff")
			if err != nil {
				return 0, err
			}
			total += len(files)
		}
		return total, nil
	case StageCloudDetect:
		total := 0
		for _, sensor := range store.Sensors() {
			entries, err := readTimeseries(st.layout.RawNDVI(sensor))
			if err != nil {
				return 0, err
			}
			total += len(entries)
		}
		return total, nil
	case StagePrepare:
		plan, err := r.preparePlanFor(st)
		if err != nil {
			return 0, err
		}
		return plan.expected(), nil
	case StageFuse:
		dates, err := r.fusionDates(st)
		if err != nil {
			return 0, err
		}
		return len(dates), nil
	case StageFusedIndex:
		total := 0
		for _, dir := range preparedRasterDirs(st.layout) {
			files, err := indexableFiles(dir, ".tif")
			if err != nil {
				return 0, err
			}
			total += len(files)
		}
		return total, nil
	}
	return 0, fmt.Errorf("unknown stage %q", string(stage))
}

// fusionDates resolves the fusion temporal index from the prepared
// dataset indexes, honoring the configured window mode.
func (r *Runner) fusionDates(st *runState) ([]string, error) {
	coarse, err := readDataset(st.layout.Prepared(store.S3))
	if err != nil {
		return nil, err
	}
	fine, err := readDataset(st.layout.Prepared(store.S2))
	if err != nil {
		return nil, err
	}
	return r.fusionWindow(coarse, fine), nil
}

func (r *Runner) fusionWindow(coarse, fine prepare.Dataset) []string {
	if r.fusion.Window == fusion.WindowUnion {
		return prepare.UnionDates(coarse.Dates(), fine.Dates())
	}
	return coarse.Dates()
}

func seasonStart(season int) time.Time {
	return time.Date(season, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func seasonEnd(season int) time.Time {
	return time.Date(season, time.December, 31, 23, 59, 59, 0, time.UTC)
}
