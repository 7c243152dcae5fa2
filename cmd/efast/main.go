// efast pipeline tool entry point
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pantierra/efast-tool/internal/clouds"
	"github.com/pantierra/efast-tool/internal/config"
	"github.com/pantierra/efast-tool/internal/fusion"
	"github.com/pantierra/efast-tool/internal/imagery"
	"github.com/pantierra/efast-tool/internal/ndvi"
	"github.com/pantierra/efast-tool/internal/pipeline"
	"github.com/pantierra/efast-tool/internal/prepare"
	"github.com/pantierra/efast-tool/internal/raster"
	"github.com/pantierra/efast-tool/internal/raster/gtiff"
	"github.com/pantierra/efast-tool/internal/record"
	"github.com/pantierra/efast-tool/internal/store"
)

// errStageFailed distinguishes a pipeline failure, exit code 1, from a
// configuration failure, exit code 2.
var errStageFailed = errors.New("one or more stages failed")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var cfgErr *pipeline.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	siteName := flag.String("site", "", "site name, a registry key unless -lat/-lon are given")
	lat := flag.Float64("lat", math.NaN(), "site latitude, overrides the registry")
	lon := flag.Float64("lon", math.NaN(), "site longitude, overrides the registry")
	season := flag.Int("season", time.Now().UTC().Year(), "season year to process")
	stagesFlag := flag.String("stages", "", "comma separated stage subset, empty runs the full chain")
	registry := flag.String("sites", "sites.yaml", "site registry file")
	flag.Parse()

	// .env is optional; deployments configure through the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return &pipeline.ConfigError{Err: fmt.Errorf("read .env: %w", err)}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return &pipeline.ConfigError{Err: err}
	}

	// Set up logger
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	site, err := resolveSite(*siteName, *lat, *lon, *registry)
	if err != nil {
		return err
	}
	stages, err := pipeline.ParseStages(*stagesFlag)
	if err != nil {
		return &pipeline.ConfigError{Err: err}
	}

	logger.Info("starting fusion pipeline",
		"site", site.Name,
		"season", *season,
		"stages", stageList(stages),
	)

	st, err := store.New(cfg.Data.Root)
	if err != nil {
		return &pipeline.ConfigError{Err: err}
	}

	// Create record store based on configuration
	var records record.Store
	switch cfg.Records.Backend {
	case "sqlite":
		db, err := record.NewSQLiteStore(cfg.SQLitePath())
		if err != nil {
			return &pipeline.ConfigError{Err: fmt.Errorf("open record database: %w", err)}
		}
		defer db.Close()
		records = db
		logger.Info("using sqlite record store", "path", cfg.SQLitePath())
	default:
		records = record.NewFileStore(st)
		logger.Info("using file record store", "root", cfg.Data.Root)
	}

	codec := gtiff.Codec{}
	proj := gtiff.Projector{}

	sources := []imagery.Source{
		imagery.NewSTACSource(imagery.SourceConfig{
			Sensor:     string(store.S2),
			BaseURL:    cfg.S2.BaseURL,
			Collection: cfg.S2.Collection,
			Bands:      cfg.S2.Bands,
			Token:      cfg.S2.Token,
			Timeout:    cfg.HTTP.Timeout,
			Retries:    cfg.HTTP.Retries,
			Backoff:    cfg.HTTP.Backoff,
		}, codec, proj).WithLogger(logger),
		imagery.NewSTACSource(imagery.SourceConfig{
			Sensor:     string(store.S3),
			BaseURL:    cfg.S3.BaseURL,
			Collection: cfg.S3.Collection,
			Bands:      cfg.S3.Bands,
			Token:      cfg.S3.Token,
			Timeout:    cfg.HTTP.Timeout,
			Retries:    cfg.HTTP.Retries,
			Backoff:    cfg.HTTP.Backoff,
		}, codec, proj).WithLogger(logger),
	}

	runner, err := pipeline.NewRunner(pipeline.Config{
		Store:      st,
		Records:    records,
		Sources:    sources,
		Calculator: ndvi.Calculator{Codec: codec, Sampler: raster.PointSampler{Proj: proj}},
		Classifier: clouds.Classifier{
			Window:     cfg.Clouds.Window,
			MinSamples: cfg.Clouds.MinSamples,
			MaxDrop:    cfg.Clouds.MaxDrop,
			Ceiling:    cfg.Clouds.Ceiling,
		},
		Preparer: prepare.Preparer{
			Codec:            codec,
			Warper:           gtiff.Warper{},
			Ratio:            cfg.Pipeline.Ratio,
			ReflectanceScale: float32(cfg.Prepare.ReflectanceScale),
			SpikeLimit:       cfg.Prepare.SpikeLimit,
			MaxDistance:      cfg.Prepare.MaxCloudDistance,
		},
		Fusion: fusion.Invoker{
			Codec:     codec,
			Transform: fusion.NewExecTransform(cfg.Fusion.Bin).WithLogger(logger),
			Ratio:     cfg.Pipeline.Ratio,
			MaxDays:   cfg.Fusion.MaxDays,
			Window:    cfg.Fusion.Window,
			Logger:    logger,
		},
		BBoxSize:    cfg.Pipeline.BBoxSize,
		CloudGating: cfg.Pipeline.CloudGating,
		Workers:     cfg.Pipeline.Workers,
		Logger:      logger,
	})
	if err != nil {
		return &pipeline.ConfigError{Err: err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx, site, *season, stages...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if res.Failed() {
		return errStageFailed
	}
	return nil
}

// resolveSite builds the processing site from the flags, consulting the
// registry only when no explicit position is given.
func resolveSite(name string, lat, lon float64, registry string) (pipeline.Site, error) {
	if name == "" {
		return pipeline.Site{}, &pipeline.ConfigError{Err: fmt.Errorf("-site is required")}
	}
	if !math.IsNaN(lat) || !math.IsNaN(lon) {
		if math.IsNaN(lat) || math.IsNaN(lon) {
			return pipeline.Site{}, &pipeline.ConfigError{Err: fmt.Errorf("-lat and -lon must be given together")}
		}
		return pipeline.Site{Name: name, Lat: lat, Lon: lon}, nil
	}

	sites, err := config.LoadSites(registry)
	if err != nil {
		return pipeline.Site{}, &pipeline.ConfigError{Err: err}
	}
	site, ok := sites[name]
	if !ok {
		return pipeline.Site{}, &pipeline.ConfigError{Err: fmt.Errorf("site %q is not in registry %s", name, registry)}
	}
	return site, nil
}

func stageList(stages []pipeline.Stage) string {
	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, string(stage))
	}
	return strings.Join(names, ",")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	// Progress goes to stderr; stdout carries the run result.
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
