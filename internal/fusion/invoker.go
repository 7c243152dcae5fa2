package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pantierra/efast-tool/internal/prepare"
	"github.com/pantierra/efast-tool/internal/raster"
)

// ErrBadInput marks failures of the input validation, as opposed to
// failures of the transform itself.
var ErrBadInput = errors.New("fusion input invalid")

// Fusion window choices: fuse onto the coarse sensor's dates or onto
// the union of both sensors'.
const (
	WindowCoarse = "s3"
	WindowUnion  = "union"
)

// Inputs are the prepared datasets one fusion run consumes. OutDir is
// the final output directory; the invoker stages elsewhere and only
// promotes verified rasters.
type Inputs struct {
	CoarseDir string
	FineDir   string
	OutDir    string
	Coarse    prepare.Dataset
	Fine      prepare.Dataset
}

// Invoker drives the transform date by date and owns output
// promotion.
type Invoker struct {
	Codec     raster.Codec
	Transform Transform
	Ratio     int
	MaxDays   int
	Window    string
	Logger    *slog.Logger
}

// Fuse validates the inputs, runs the transform for every fusion date
// without a present output, and verifies the full output set. It
// returns the fused filenames, one per fusion date.
func (inv Invoker) Fuse(ctx context.Context, in Inputs) ([]string, error) {
	logger := inv.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dates, err := inv.validate(in)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, date := range dates {
		if !nonEmpty(filepath.Join(in.OutDir, prepare.FusedName(date))) {
			missing = append(missing, date)
		}
	}

	if len(missing) > 0 {
		if err := inv.fuseMissing(ctx, in, missing, logger); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(dates))
	for _, date := range dates {
		files = append(files, prepare.FusedName(date))
	}
	sort.Strings(files)

	if err := inv.verify(in.OutDir, files, in.Fine.Grid); err != nil {
		return nil, err
	}
	return files, nil
}

func (inv Invoker) fuseMissing(ctx context.Context, in Inputs, dates []string, logger *slog.Logger) error {
	staging, err := os.MkdirTemp(filepath.Dir(in.OutDir), ".fusion-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := Request{
			Date:      date,
			CoarseDir: in.CoarseDir,
			FineDir:   in.FineDir,
			OutDir:    staging,
			Ratio:     inv.Ratio,
			MaxDays:   inv.MaxDays,
		}
		if err := inv.Transform.Fuse(ctx, req); err != nil {
			return err
		}
		if !nonEmpty(filepath.Join(staging, prepare.FusedName(date))) {
			return fmt.Errorf("transform produced no output for %s", date)
		}
		logger.DebugContext(ctx, "fused date",
			slog.String("date", date),
			slog.String("file", prepare.FusedName(date)),
		)
	}

	staged := make([]string, 0, len(dates))
	for _, date := range dates {
		staged = append(staged, prepare.FusedName(date))
	}
	if err := inv.verify(staging, staged, in.Fine.Grid); err != nil {
		return err
	}

	for _, f := range staged {
		if err := os.Rename(filepath.Join(staging, f), filepath.Join(in.OutDir, f)); err != nil {
			return fmt.Errorf("promote %s: %w", f, err)
		}
	}
	return nil
}

func (inv Invoker) validate(in Inputs) ([]string, error) {
	if len(in.Coarse.Dates()) == 0 {
		return nil, fmt.Errorf("%w: coarse dataset covers no dates", ErrBadInput)
	}
	if len(in.Fine.Dates()) == 0 {
		return nil, fmt.Errorf("%w: fine dataset covers no dates", ErrBadInput)
	}
	if want := in.Coarse.Grid.Refine(inv.Ratio); !in.Fine.Grid.Equal(want) {
		return nil, fmt.Errorf("%w: fine grid is not the coarse grid refined %dx", ErrBadInput, inv.Ratio)
	}

	if err := filesPresent(in.CoarseDir, in.Coarse); err != nil {
		return nil, err
	}
	if err := filesPresent(in.FineDir, in.Fine); err != nil {
		return nil, err
	}

	var dates []string
	switch inv.Window {
	case WindowUnion:
		dates = prepare.UnionDates(in.Coarse.Dates(), in.Fine.Dates())
	default:
		dates = prepare.UnionDates(in.Coarse.Dates())
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: empty fusion window", ErrBadInput)
	}
	return dates, nil
}

func filesPresent(dir string, d prepare.Dataset) error {
	for _, f := range d.Files() {
		if !nonEmpty(filepath.Join(dir, f)) {
			return fmt.Errorf("%w: %s missing or empty", ErrBadInput, f)
		}
	}
	return nil
}

func (inv Invoker) verify(dir string, files []string, want raster.Grid) error {
	for _, f := range files {
		r, err := inv.Codec.Decode(filepath.Join(dir, f))
		if err != nil {
			return fmt.Errorf("fused output %s: %w", f, err)
		}
		if !r.Grid.Equal(want) {
			return fmt.Errorf("fused output %s is not on the fine grid", f)
		}
	}
	return nil
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
