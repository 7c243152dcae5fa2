package imagery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSceneFilename(t *testing.T) {
	tests := []struct {
		name  string
		entry CatalogEntry
		want  string
	}{
		{
			name: "plain id",
			entry: CatalogEntry{
				ID:   "S2A_32TPT_20240512_0_L2A",
				Time: time.Date(2024, 5, 12, 10, 30, 21, 0, time.UTC),
			},
			want: "20240512T103021_S2A_32TPT_20240512_0_L2A.geotiff",
		},
		{
			name: "id with unsafe characters",
			entry: CatalogEntry{
				ID:   "S3A/OL_2 LFR:scene",
				Time: time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC),
			},
			want: "20240512T090000_S3A-OL_2-LFR-scene.geotiff",
		},
		{
			name: "non-utc time",
			entry: CatalogEntry{
				ID:   "x",
				Time: time.Date(2024, 5, 12, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			},
			want: "20240512T100000_x.geotiff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SceneFilename(tt.entry); got != tt.want {
				t.Errorf("SceneFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileDate(t *testing.T) {
	tests := []struct {
		name string
		file string
		want time.Time
		ok   bool
	}{
		{
			name: "scene name with timestamp",
			file: "20240512T103021_S2A_32TPT_20240512_0_L2A.geotiff",
			want: time.Date(2024, 5, 12, 10, 30, 21, 0, time.UTC),
			ok:   true,
		},
		{
			name: "composite name",
			file: "composite_20240512.geotiff",
			want: time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "reflectance name",
			file: "S2A_MSIL2A_20240512_REFL.tif",
			want: time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "no date",
			file: "index.json",
			ok:   false,
		},
		{
			name: "impossible date",
			file: "20241341_scene.geotiff",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FileDate(tt.file)
			if ok != tt.ok {
				t.Fatalf("FileDate(%q) ok = %v, want %v", tt.file, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("FileDate(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}

func TestDateKey(t *testing.T) {
	got := DateKey(time.Date(2024, 5, 12, 23, 30, 0, 0, time.FixedZone("CEST", 2*3600)))
	if got != "20240512" {
		t.Errorf("DateKey() = %q, want %q", got, "20240512")
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("retry() calls = %d, want 3", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("still broken")
	})
	if err == nil || err.Error() != "still broken" {
		t.Fatalf("retry() error = %v, want last error", err)
	}
	if calls != 2 {
		t.Errorf("retry() calls = %d, want 2", calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry(ctx, 5, time.Minute, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("retry() calls = %d, want 1", calls)
	}
}
