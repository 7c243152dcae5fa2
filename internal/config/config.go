// Package config provides configuration management for the fusion
// pipeline tool.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from
// environment variables. Every variable carries the EFAST_ prefix.
type Config struct {
	Data     DataConfig     `envPrefix:"DATA_"`
	S2       S2Config       `envPrefix:"S2_"`
	S3       S3Config       `envPrefix:"S3_"`
	HTTP     HTTPConfig     `envPrefix:"HTTP_"`
	Pipeline PipelineConfig `envPrefix:"PIPELINE_"`
	Prepare  PrepareConfig  `envPrefix:"PREPARE_"`
	Clouds   CloudsConfig   `envPrefix:"CLOUDS_"`
	Fusion   FusionConfig   `envPrefix:"FUSION_"`
	Records  RecordsConfig  `envPrefix:"RECORDS_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// DataConfig locates the on-disk raster store.
type DataConfig struct {
	Root string `env:"ROOT" envDefault:"./data"`
}

// S2Config contains the fine sensor catalog configuration. Bands are
// asset keys in scene band order: blue, green, red, nir.
type S2Config struct {
	BaseURL    string   `env:"BASE_URL" envDefault:"https://earth-search.aws.element84.com/v1"`
	Collection string   `env:"COLLECTION" envDefault:"sentinel-2-l2a"`
	Bands      []string `env:"BANDS" envDefault:"blue,green,red,nir"`
	Token      string   `env:"TOKEN" envDefault:""`
}

// S3Config contains the coarse sensor catalog configuration.
type S3Config struct {
	BaseURL    string   `env:"BASE_URL" envDefault:"https://catalogue.dataspace.copernicus.eu/stac"`
	Collection string   `env:"COLLECTION" envDefault:"SENTINEL-3"`
	Bands      []string `env:"BANDS" envDefault:"Oa04,Oa06,Oa08,Oa17"`
	Token      string   `env:"TOKEN" envDefault:""`
}

// HTTPConfig contains catalog and asset download client configuration.
type HTTPConfig struct {
	Timeout time.Duration `env:"TIMEOUT" envDefault:"60s"`
	Retries int           `env:"RETRIES" envDefault:"3"`
	Backoff time.Duration `env:"BACKOFF" envDefault:"2s"`
}

// PipelineConfig contains orchestrator tunables.
type PipelineConfig struct {
	Workers int `env:"WORKERS" envDefault:"4"`
	// BBoxSize is the site extent edge length in degrees.
	BBoxSize float64 `env:"BBOX_SIZE" envDefault:"0.009"`
	// Ratio is the fine grid refinement over the coarse grid.
	Ratio int `env:"RATIO" envDefault:"21"`
	// CloudGating excludes cloud-flagged scenes from preparation.
	CloudGating bool `env:"CLOUD_GATING" envDefault:"true"`
}

// PrepareConfig contains scene preparation tunables.
type PrepareConfig struct {
	// ReflectanceScale normalizes fine sensor digital numbers.
	ReflectanceScale float64 `env:"REFLECTANCE_SCALE" envDefault:"0.0001"`
	// SpikeLimit invalidates composite input pixels reading abnormally high.
	SpikeLimit float64 `env:"SPIKE_LIMIT" envDefault:"5"`
	// MaxCloudDistance caps the cloud distance layer.
	MaxCloudDistance float64 `env:"MAX_CLOUD_DISTANCE" envDefault:"255"`
}

// CloudsConfig contains cloud classification parameters.
type CloudsConfig struct {
	Window     time.Duration `env:"WINDOW" envDefault:"336h"`
	MinSamples int           `env:"MIN_SAMPLES" envDefault:"3"`
	MaxDrop    float64       `env:"MAX_DROP" envDefault:"0.15"`
	Ceiling    float64       `env:"CEILING" envDefault:"0.3"`
}

// FusionConfig contains fusion transform configuration.
type FusionConfig struct {
	// Bin is the external fusion transform executable.
	Bin string `env:"BIN" envDefault:"efast-fusion"`
	// Window selects the fusion dates: "s3" or "union"
	Window  string `env:"WINDOW" envDefault:"s3"`
	MaxDays int    `env:"MAX_DAYS" envDefault:"30"`
}

// RecordsConfig contains stage record persistence configuration.
type RecordsConfig struct {
	// Backend specifies where stage records live: "files" or "sqlite"
	Backend string `env:"BACKEND" envDefault:"files"`
	// SQLitePath overrides the database location for the sqlite backend.
	SQLitePath string `env:"SQLITE_PATH" envDefault:""`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		Prefix:          "EFAST_",
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	// Validate data config
	if c.Data.Root == "" {
		return fmt.Errorf("data root is required")
	}

	// Validate catalog configs
	if c.S2.BaseURL == "" {
		return fmt.Errorf("S2 base URL is required")
	}

	if c.S2.Collection == "" {
		return fmt.Errorf("S2 collection is required")
	}

	if len(c.S2.Bands) != 4 {
		return fmt.Errorf("S2 needs 4 band assets in blue, green, red, nir order, got %d", len(c.S2.Bands))
	}

	if c.S3.BaseURL == "" {
		return fmt.Errorf("S3 base URL is required")
	}

	if c.S3.Collection == "" {
		return fmt.Errorf("S3 collection is required")
	}

	if len(c.S3.Bands) != 4 {
		return fmt.Errorf("S3 needs 4 band assets in blue, green, red, nir order, got %d", len(c.S3.Bands))
	}

	// Validate HTTP config
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTP.Timeout)
	}

	if c.HTTP.Retries < 1 {
		return fmt.Errorf("http retries must be at least 1, got %d", c.HTTP.Retries)
	}

	if c.HTTP.Backoff < 0 {
		return fmt.Errorf("http backoff must not be negative, got %s", c.HTTP.Backoff)
	}

	// Validate pipeline config
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.Pipeline.Workers)
	}

	if c.Pipeline.BBoxSize <= 0 {
		return fmt.Errorf("bbox size must be positive, got %g", c.Pipeline.BBoxSize)
	}

	if c.Pipeline.Ratio < 1 {
		return fmt.Errorf("resolution ratio must be at least 1, got %d", c.Pipeline.Ratio)
	}

	// Validate prepare config
	if c.Prepare.ReflectanceScale <= 0 {
		return fmt.Errorf("reflectance scale must be positive, got %g", c.Prepare.ReflectanceScale)
	}

	if c.Prepare.SpikeLimit <= 0 {
		return fmt.Errorf("spike limit must be positive, got %g", c.Prepare.SpikeLimit)
	}

	if c.Prepare.MaxCloudDistance <= 0 {
		return fmt.Errorf("max cloud distance must be positive, got %g", c.Prepare.MaxCloudDistance)
	}

	// Validate clouds config
	if c.Clouds.Window <= 0 {
		return fmt.Errorf("cloud window must be positive, got %s", c.Clouds.Window)
	}

	if c.Clouds.MinSamples < 1 {
		return fmt.Errorf("cloud min samples must be at least 1, got %d", c.Clouds.MinSamples)
	}

	if c.Clouds.MaxDrop <= 0 {
		return fmt.Errorf("cloud max drop must be positive, got %g", c.Clouds.MaxDrop)
	}

	if c.Clouds.Ceiling <= 0 || c.Clouds.Ceiling > 1 {
		return fmt.Errorf("cloud ceiling must be within (0, 1], got %g", c.Clouds.Ceiling)
	}

	// Validate fusion config
	if c.Fusion.Bin == "" {
		return fmt.Errorf("fusion transform binary is required")
	}

	if c.Fusion.Window != "s3" && c.Fusion.Window != "union" {
		return fmt.Errorf("fusion window must be 's3' or 'union', got %q", c.Fusion.Window)
	}

	if c.Fusion.MaxDays < 1 {
		return fmt.Errorf("fusion max days must be at least 1, got %d", c.Fusion.MaxDays)
	}

	// Validate records config
	if c.Records.Backend != "files" && c.Records.Backend != "sqlite" {
		return fmt.Errorf("records backend must be 'files' or 'sqlite', got %q", c.Records.Backend)
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

// SQLitePath returns the stage record database location, defaulting to
// records.db under the data root.
func (c *Config) SQLitePath() string {
	if c.Records.SQLitePath != "" {
		return c.Records.SQLitePath
	}
	return filepath.Join(c.Data.Root, "records.db")
}
