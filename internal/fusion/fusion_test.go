package fusion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pantierra/efast-tool/internal/prepare"
	"github.com/pantierra/efast-tool/internal/raster"
)

type fakeTransform struct {
	grid   raster.Grid
	failOn string
	mute   string // date the transform silently produces nothing for
	calls  []string
}

func (f *fakeTransform) Fuse(ctx context.Context, req Request) error {
	f.calls = append(f.calls, req.Date)
	if req.Date == f.failOn {
		return errors.New("transform blew up")
	}
	if req.Date == f.mute {
		return nil
	}
	out := raster.New(f.grid, 1, 0)
	for i := range out.Bands[0] {
		out.Bands[0][i] = 0.5
	}
	return raster.GobCodec{}.Encode(filepath.Join(req.OutDir, prepare.FusedName(req.Date)), out)
}

type fixture struct {
	root   string
	in     Inputs
	coarse raster.Grid
	fine   raster.Grid
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	coarse := raster.Grid{
		CRS:       "EPSG:4326",
		Transform: [6]float64{11.0, 0.03, 0, 47.0, 0, -0.03},
		Width:     2,
		Height:    2,
	}
	fine := coarse.Refine(3)

	f := &fixture{
		root:   root,
		coarse: coarse,
		fine:   fine,
		in: Inputs{
			CoarseDir: filepath.Join(root, "s3"),
			FineDir:   filepath.Join(root, "s2"),
			OutDir:    filepath.Join(root, "fusion"),
		},
	}
	for _, dir := range []string{f.in.CoarseDir, f.in.FineDir, f.in.OutDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	coarseFiles := map[string]string{}
	for _, date := range []string{"20240510", "20240512", "20240514"} {
		name := prepare.CompositeName(date)
		f.writeRaster(t, filepath.Join(f.in.CoarseDir, name), coarse)
		coarseFiles[date] = name
	}
	fineFiles := map[string]string{}
	for _, date := range []string{"20240510", "20240512"} {
		name := prepare.FineName(date)
		f.writeRaster(t, filepath.Join(f.in.FineDir, name), fine)
		fineFiles[date] = name
	}

	f.in.Coarse = prepare.BuildIndex("s3", coarse, []string{"20240510", "20240512", "20240514"}, coarseFiles)
	f.in.Fine = prepare.BuildIndex("s2", fine, []string{"20240510", "20240512"}, fineFiles)
	return f
}

func (f *fixture) writeRaster(t *testing.T, path string, grid raster.Grid) {
	t.Helper()
	r := raster.New(grid, 1, 0)
	for i := range r.Bands[0] {
		r.Bands[0][i] = 1
	}
	if err := (raster.GobCodec{}).Encode(path, r); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) invoker(tr Transform) Invoker {
	return Invoker{
		Codec:     raster.GobCodec{},
		Transform: tr,
		Ratio:     3,
		MaxDays:   30,
		Window:    WindowCoarse,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) assertNoStaging(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".fusion-") {
			t.Errorf("staging dir %s left behind", e.Name())
		}
	}
}

func TestFuseProducesAllDates(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransform{grid: f.fine}

	files, err := f.invoker(tr).Fuse(context.Background(), f.in)
	if err != nil {
		t.Fatalf("Fuse() error: %v", err)
	}

	want := []string{"REFL_20240510.tif", "REFL_20240512.tif", "REFL_20240514.tif"}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("Fuse() files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"20240510", "20240512", "20240514"}, tr.calls); diff != "" {
		t.Errorf("transform calls mismatch (-want +got):\n%s", diff)
	}
	for _, name := range want {
		if _, err := os.Stat(filepath.Join(f.in.OutDir, name)); err != nil {
			t.Errorf("output %s not promoted: %v", name, err)
		}
	}
	f.assertNoStaging(t)
}

func TestFuseSkipsExistingOutputs(t *testing.T) {
	f := newFixture(t)
	f.writeRaster(t, filepath.Join(f.in.OutDir, prepare.FusedName("20240512")), f.fine)

	tr := &fakeTransform{grid: f.fine}
	files, err := f.invoker(tr).Fuse(context.Background(), f.in)
	if err != nil {
		t.Fatalf("Fuse() error: %v", err)
	}

	if len(files) != 3 {
		t.Errorf("Fuse() files = %d, want 3", len(files))
	}
	if diff := cmp.Diff([]string{"20240510", "20240514"}, tr.calls); diff != "" {
		t.Errorf("transform calls mismatch (-want +got):\n%s", diff)
	}
}

func TestFuseWindowUnion(t *testing.T) {
	f := newFixture(t)

	// Give the fine sensor a date the coarse sensor lacks.
	name := prepare.FineName("20240516")
	f.writeRaster(t, filepath.Join(f.in.FineDir, name), f.fine)
	f.in.Fine = prepare.BuildIndex("s2", f.fine,
		[]string{"20240510", "20240512", "20240516"},
		map[string]string{
			"20240510": prepare.FineName("20240510"),
			"20240512": prepare.FineName("20240512"),
			"20240516": name,
		})

	tr := &fakeTransform{grid: f.fine}
	inv := f.invoker(tr)
	inv.Window = WindowUnion

	files, err := inv.Fuse(context.Background(), f.in)
	if err != nil {
		t.Fatalf("Fuse() error: %v", err)
	}
	if len(files) != 4 {
		t.Errorf("Fuse() files = %d, want union of 4 dates", len(files))
	}
	if len(tr.calls) != 4 {
		t.Errorf("transform calls = %d, want 4", len(tr.calls))
	}
}

func TestFuseValidatesInputs(t *testing.T) {
	t.Run("empty coarse dataset", func(t *testing.T) {
		f := newFixture(t)
		f.in.Coarse = prepare.BuildIndex("s3", f.coarse, []string{"20240510"}, nil)

		_, err := f.invoker(&fakeTransform{grid: f.fine}).Fuse(context.Background(), f.in)
		if !errors.Is(err, ErrBadInput) {
			t.Fatalf("Fuse() error = %v, want ErrBadInput", err)
		}
	})

	t.Run("grid ratio mismatch", func(t *testing.T) {
		f := newFixture(t)
		f.in.Fine.Grid = f.coarse.Refine(2)

		_, err := f.invoker(&fakeTransform{grid: f.fine}).Fuse(context.Background(), f.in)
		if !errors.Is(err, ErrBadInput) {
			t.Fatalf("Fuse() error = %v, want ErrBadInput", err)
		}
	})

	t.Run("missing input file", func(t *testing.T) {
		f := newFixture(t)
		if err := os.Remove(filepath.Join(f.in.CoarseDir, prepare.CompositeName("20240512"))); err != nil {
			t.Fatal(err)
		}

		_, err := f.invoker(&fakeTransform{grid: f.fine}).Fuse(context.Background(), f.in)
		if !errors.Is(err, ErrBadInput) {
			t.Fatalf("Fuse() error = %v, want ErrBadInput", err)
		}
	})
}

func TestFuseTransformFailure(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransform{grid: f.fine, failOn: "20240512"}

	_, err := f.invoker(tr).Fuse(context.Background(), f.in)
	if err == nil || errors.Is(err, ErrBadInput) {
		t.Fatalf("Fuse() error = %v, want transform failure", err)
	}

	outputs, err := os.ReadDir(f.in.OutDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 0 {
		t.Errorf("outputs promoted despite failure: %v", outputs)
	}
	f.assertNoStaging(t)
}

func TestFuseRejectsOutputOffGrid(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransform{grid: f.coarse}

	_, err := f.invoker(tr).Fuse(context.Background(), f.in)
	if err == nil || !strings.Contains(err.Error(), "not on the fine grid") {
		t.Fatalf("Fuse() error = %v, want grid rejection", err)
	}

	outputs, err := os.ReadDir(f.in.OutDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 0 {
		t.Errorf("outputs promoted despite bad grid: %v", outputs)
	}
}

func TestFuseNoOutputForDate(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransform{grid: f.fine, mute: "20240514"}

	_, err := f.invoker(tr).Fuse(context.Background(), f.in)
	if err == nil || !strings.Contains(err.Error(), "produced no output") {
		t.Fatalf("Fuse() error = %v, want missing output error", err)
	}
}

func TestExecTransformDefaults(t *testing.T) {
	tr := NewExecTransform("efast")
	if tr.Product != "REFL" || tr.DatePosition != 2 || tr.MinImportance != 0 {
		t.Errorf("NewExecTransform() = %+v, unexpected defaults", tr)
	}

	args := tr.args(Request{
		Date:      "20240512",
		CoarseDir: "/data/prepared/s3",
		FineDir:   "/data/prepared/s2",
		OutDir:    "/data/prepared/fusion",
		Ratio:     21,
		MaxDays:   30,
	})
	want := []string{
		"--date", "20240512",
		"--coarse-dir", "/data/prepared/s3",
		"--fine-dir", "/data/prepared/s2",
		"--out-dir", "/data/prepared/fusion",
		"--product", "REFL",
		"--max-days", "30",
		"--date-position", "2",
		"--min-importance", "0",
		"--ratio", "21",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}
