// Package fusion invokes the external fusion transform over prepared
// sensor datasets and promotes its output atomically. The transform
// itself is a black box; this package only validates what goes in and
// verifies what comes out.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
)

// Request is one transform invocation: fuse the series around a single
// date into OutDir.
type Request struct {
	Date      string // YYYYMMDD
	CoarseDir string
	FineDir   string
	OutDir    string
	Ratio     int
	MaxDays   int
}

// Transform produces one fused reflectance raster per request, named
// REFL_{date}.tif under OutDir. Deterministic for fixed inputs.
type Transform interface {
	Fuse(ctx context.Context, req Request) error
}

// ExecTransform runs the fusion algorithm as an external executable,
// one process per date.
type ExecTransform struct {
	Bin           string
	Product       string
	DatePosition  int
	MinImportance float64
	logger        *slog.Logger
}

// NewExecTransform returns a transform runner with the stock algorithm
// arguments.
func NewExecTransform(bin string) *ExecTransform {
	return &ExecTransform{
		Bin:          bin,
		Product:      "REFL",
		DatePosition: 2,
		logger:       slog.Default(),
	}
}

// WithLogger sets a custom logger for the transform runner.
func (t *ExecTransform) WithLogger(logger *slog.Logger) *ExecTransform {
	t.logger = logger
	return t
}

func (t *ExecTransform) Fuse(ctx context.Context, req Request) error {
	t.logger.DebugContext(ctx, "invoking fusion transform",
		slog.String("bin", t.Bin),
		slog.String("date", req.Date),
	)

	cmd := exec.CommandContext(ctx, t.Bin, t.args(req)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s --date %s: %w: %s", t.Bin, req.Date, err, tail(out))
	}
	return nil
}

func (t *ExecTransform) args(req Request) []string {
	return []string{
		"--date", req.Date,
		"--coarse-dir", req.CoarseDir,
		"--fine-dir", req.FineDir,
		"--out-dir", req.OutDir,
		"--product", t.Product,
		"--max-days", strconv.Itoa(req.MaxDays),
		"--date-position", strconv.Itoa(t.DatePosition),
		"--min-importance", strconv.FormatFloat(t.MinImportance, 'f', -1, 64),
		"--ratio", strconv.Itoa(req.Ratio),
	}
}

func tail(out []byte) []byte {
	const limit = 512
	if len(out) > limit {
		return out[len(out)-limit:]
	}
	return out
}
