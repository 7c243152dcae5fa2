package pipeline

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseStages(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []Stage
		wantErr bool
	}{
		{name: "empty selects the chain", in: "", want: Stages()},
		{name: "blank selects the chain", in: "   ", want: Stages()},
		{name: "subset reordered to chain order", in: "fuse,download", want: []Stage{StageDownload, StageFuse}},
		{name: "spaces trimmed", in: " prepare , cloud_detect ", want: []Stage{StageCloudDetect, StagePrepare}},
		{name: "duplicates collapse", in: "fuse,fuse", want: []Stage{StageFuse}},
		{name: "unknown stage", in: "download,upload", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStages(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStages(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseStages(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestStageChain(t *testing.T) {
	want := []Stage{StageDownload, StageRawIndex, StageCloudDetect, StagePrepare, StageFuse, StageFusedIndex}
	if diff := cmp.Diff(want, Stages()); diff != "" {
		t.Fatalf("Stages() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := prev(StageDownload); ok {
		t.Errorf("prev(download) ok = true, want false")
	}
	for i := 1; i < len(want); i++ {
		p, ok := prev(want[i])
		if !ok || p != want[i-1] {
			t.Errorf("prev(%s) = %v, %v, want %v, true", want[i], p, ok, want[i-1])
		}
	}
}

func TestSiteValidate(t *testing.T) {
	tests := []struct {
		name    string
		site    Site
		wantErr bool
	}{
		{name: "valid", site: Site{Name: "innsbruck", Lat: 47.116171, Lon: 11.320308}},
		{name: "empty name", site: Site{Lat: 1, Lon: 1}, wantErr: true},
		{name: "separator in name", site: Site{Name: "a/b", Lat: 1, Lon: 1}, wantErr: true},
		{name: "leading dot", site: Site{Name: ".hidden", Lat: 1, Lon: 1}, wantErr: true},
		{name: "latitude out of range", site: Site{Name: "x", Lat: 90.1, Lon: 1}, wantErr: true},
		{name: "longitude out of range", site: Site{Name: "x", Lat: 1, Lon: -180.5}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.site.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSiteBBox(t *testing.T) {
	got := Site{Name: "x", Lat: 47.1, Lon: 11.3}.BBox(0.01)
	want := [4]float64{11.295, 47.095, 11.305, 47.105}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("BBox() = %v, want %v", got, want)
		}
	}
}

func TestResultFailed(t *testing.T) {
	res := &Result{Stages: []StageResult{
		{Stage: StageDownload, Status: StatusCompleted},
		{Stage: StageRawIndex, Status: StatusSkipped},
	}}
	if res.Failed() {
		t.Errorf("Failed() = true, want false")
	}
	res.Stages = append(res.Stages, StageResult{Stage: StageCloudDetect, Status: StatusFailed})
	if !res.Failed() {
		t.Errorf("Failed() = false, want true")
	}
}

func TestErrorClasses(t *testing.T) {
	cause := errors.New("connection reset")

	wrapped := fmt.Errorf("download: %w", &TransientUnitError{Done: 8, Expected: 10, Err: cause})
	var transient *TransientUnitError
	if !errors.As(wrapped, &transient) {
		t.Fatalf("errors.As(%v, *TransientUnitError) = false", wrapped)
	}
	if transient.Done != 8 || transient.Expected != 10 {
		t.Errorf("counts = %d/%d, want 8/10", transient.Done, transient.Expected)
	}
	if got, want := transient.Error(), "transient: 8 of 10 units done: connection reset"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(wrapped, cause) {
		t.Errorf("errors.Is(wrapped, cause) = false, want true")
	}

	var integrity *DataIntegrityError
	if !errors.As(integrityf("grid mismatch: %w", cause), &integrity) {
		t.Fatalf("integrityf did not produce a *DataIntegrityError")
	}
	var cfg *ConfigError
	if !errors.As(configf("season %d", -1), &cfg) {
		t.Fatalf("configf did not produce a *ConfigError")
	}
	var alg *AlgorithmError
	if !errors.As(fmt.Errorf("fuse: %w", &AlgorithmError{Err: cause}), &alg) {
		t.Fatalf("errors.As(*AlgorithmError) = false")
	}
}
