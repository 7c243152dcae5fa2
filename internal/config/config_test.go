package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Test defaults
	if cfg.Data.Root != "./data" {
		t.Errorf("expected default data root ./data, got %s", cfg.Data.Root)
	}

	if cfg.S2.BaseURL != "https://earth-search.aws.element84.com/v1" {
		t.Errorf("expected default S2 base URL, got %s", cfg.S2.BaseURL)
	}

	if len(cfg.S2.Bands) != 4 || cfg.S2.Bands[3] != "nir" {
		t.Errorf("expected default S2 bands blue,green,red,nir, got %v", cfg.S2.Bands)
	}

	if cfg.S3.Collection != "SENTINEL-3" {
		t.Errorf("expected default S3 collection SENTINEL-3, got %s", cfg.S3.Collection)
	}

	if cfg.HTTP.Timeout != 60*time.Second {
		t.Errorf("expected default http timeout 60s, got %s", cfg.HTTP.Timeout)
	}

	if cfg.Pipeline.Workers != 4 {
		t.Errorf("expected default worker count 4, got %d", cfg.Pipeline.Workers)
	}

	if cfg.Pipeline.Ratio != 21 {
		t.Errorf("expected default ratio 21, got %d", cfg.Pipeline.Ratio)
	}

	if !cfg.Pipeline.CloudGating {
		t.Error("expected cloud gating on by default")
	}

	if cfg.Clouds.Window != 336*time.Hour {
		t.Errorf("expected default cloud window 336h, got %s", cfg.Clouds.Window)
	}

	if cfg.Fusion.Window != "s3" {
		t.Errorf("expected default fusion window s3, got %s", cfg.Fusion.Window)
	}

	if cfg.Records.Backend != "files" {
		t.Errorf("expected default records backend files, got %s", cfg.Records.Backend)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected default log format text, got %s", cfg.Logging.Format)
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	os.Setenv("EFAST_DATA_ROOT", "/srv/efast")
	os.Setenv("EFAST_S2_BANDS", "B02,B03,B04,B08")
	os.Setenv("EFAST_S3_TOKEN", "secret")
	os.Setenv("EFAST_HTTP_TIMEOUT", "90s")
	os.Setenv("EFAST_PIPELINE_RATIO", "3")
	os.Setenv("EFAST_PIPELINE_CLOUD_GATING", "false")
	os.Setenv("EFAST_CLOUDS_MAX_DROP", "0.2")
	os.Setenv("EFAST_FUSION_WINDOW", "union")
	os.Setenv("EFAST_RECORDS_BACKEND", "sqlite")
	os.Setenv("EFAST_LOG_LEVEL", "debug")
	os.Setenv("EFAST_LOG_FORMAT", "json")

	defer func() {
		os.Unsetenv("EFAST_DATA_ROOT")
		os.Unsetenv("EFAST_S2_BANDS")
		os.Unsetenv("EFAST_S3_TOKEN")
		os.Unsetenv("EFAST_HTTP_TIMEOUT")
		os.Unsetenv("EFAST_PIPELINE_RATIO")
		os.Unsetenv("EFAST_PIPELINE_CLOUD_GATING")
		os.Unsetenv("EFAST_CLOUDS_MAX_DROP")
		os.Unsetenv("EFAST_FUSION_WINDOW")
		os.Unsetenv("EFAST_RECORDS_BACKEND")
		os.Unsetenv("EFAST_LOG_LEVEL")
		os.Unsetenv("EFAST_LOG_FORMAT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Data.Root != "/srv/efast" {
		t.Errorf("expected data root /srv/efast, got %s", cfg.Data.Root)
	}

	if len(cfg.S2.Bands) != 4 || cfg.S2.Bands[0] != "B02" {
		t.Errorf("expected S2 bands B02,B03,B04,B08, got %v", cfg.S2.Bands)
	}

	if cfg.S3.Token != "secret" {
		t.Errorf("expected S3 token to be set, got %q", cfg.S3.Token)
	}

	if cfg.HTTP.Timeout != 90*time.Second {
		t.Errorf("expected http timeout 90s, got %s", cfg.HTTP.Timeout)
	}

	if cfg.Pipeline.Ratio != 3 {
		t.Errorf("expected ratio 3, got %d", cfg.Pipeline.Ratio)
	}

	if cfg.Pipeline.CloudGating {
		t.Error("expected cloud gating off")
	}

	if cfg.Clouds.MaxDrop != 0.2 {
		t.Errorf("expected cloud max drop 0.2, got %g", cfg.Clouds.MaxDrop)
	}

	if cfg.Fusion.Window != "union" {
		t.Errorf("expected fusion window union, got %s", cfg.Fusion.Window)
	}

	if cfg.Records.Backend != "sqlite" {
		t.Errorf("expected records backend sqlite, got %s", cfg.Records.Backend)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format json, got %s", cfg.Logging.Format)
	}
}

// validConfig returns a configuration that passes Validate, for the
// mutation cases below.
func validConfig() *Config {
	return &Config{
		Data: DataConfig{Root: "./data"},
		S2: S2Config{
			BaseURL:    "https://earth-search.aws.element84.com/v1",
			Collection: "sentinel-2-l2a",
			Bands:      []string{"blue", "green", "red", "nir"},
		},
		S3: S3Config{
			BaseURL:    "https://catalogue.dataspace.copernicus.eu/stac",
			Collection: "SENTINEL-3",
			Bands:      []string{"Oa04", "Oa06", "Oa08", "Oa17"},
		},
		HTTP: HTTPConfig{
			Timeout: 60 * time.Second,
			Retries: 3,
			Backoff: 2 * time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:     4,
			BBoxSize:    0.009,
			Ratio:       21,
			CloudGating: true,
		},
		Prepare: PrepareConfig{
			ReflectanceScale: 0.0001,
			SpikeLimit:       5,
			MaxCloudDistance: 255,
		},
		Clouds: CloudsConfig{
			Window:     336 * time.Hour,
			MinSamples: 3,
			MaxDrop:    0.15,
			Ceiling:    0.3,
		},
		Fusion: FusionConfig{
			Bin:     "efast-fusion",
			Window:  "s3",
			MaxDays: 30,
		},
		Records: RecordsConfig{Backend: "files"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
	}{
		{
			name:      "valid config",
			mutate:    func(c *Config) {},
			wantError: false,
		},
		{
			name:      "missing data root",
			mutate:    func(c *Config) { c.Data.Root = "" },
			wantError: true,
		},
		{
			name:      "wrong band count",
			mutate:    func(c *Config) { c.S2.Bands = []string{"red", "nir"} },
			wantError: true,
		},
		{
			name:      "missing S3 base URL",
			mutate:    func(c *Config) { c.S3.BaseURL = "" },
			wantError: true,
		},
		{
			name:      "zero http timeout",
			mutate:    func(c *Config) { c.HTTP.Timeout = 0 },
			wantError: true,
		},
		{
			name:      "zero workers",
			mutate:    func(c *Config) { c.Pipeline.Workers = 0 },
			wantError: true,
		},
		{
			name:      "zero ratio",
			mutate:    func(c *Config) { c.Pipeline.Ratio = 0 },
			wantError: true,
		},
		{
			name:      "cloud ceiling above one",
			mutate:    func(c *Config) { c.Clouds.Ceiling = 1.5 },
			wantError: true,
		},
		{
			name:      "invalid fusion window",
			mutate:    func(c *Config) { c.Fusion.Window = "both" },
			wantError: true,
		},
		{
			name:      "invalid records backend",
			mutate:    func(c *Config) { c.Records.Backend = "redis" },
			wantError: true,
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logging.Level = "chatty" },
			wantError: true,
		},
		{
			name:      "invalid log format",
			mutate:    func(c *Config) { c.Logging.Format = "xml" },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSQLitePath(t *testing.T) {
	cfg := validConfig()

	if got, want := cfg.SQLitePath(), filepath.Join("./data", "records.db"); got != want {
		t.Errorf("SQLitePath() = %s, expected %s", got, want)
	}

	cfg.Records.SQLitePath = "/var/lib/efast/records.db"
	if got := cfg.SQLitePath(); got != "/var/lib/efast/records.db" {
		t.Errorf("SQLitePath() = %s, expected override to win", got)
	}
}
