package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	imagesweep "github.com/menta2k/image-sweep"
	"github.com/menta2k/image-sweep/internal/config"
	"github.com/menta2k/image-sweep/internal/logging"
	"github.com/menta2k/image-sweep/internal/metrics"
	"github.com/menta2k/image-sweep/internal/storage"
	"github.com/menta2k/image-sweep/pkg/client"
	"github.com/menta2k/image-sweep/pkg/llamacpp"
	"github.com/menta2k/image-sweep/pkg/ollama"
	"github.com/menta2k/image-sweep/pkg/processing"
	"github.com/menta2k/image-sweep/pkg/render"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet(filepath.Base(os.Args[0]), pflag.ContinueOnError)

	configPath := fs.String("config", "", "YAML config file (default: "+config.GetConfigPath()+" when present)")
	dumpConfig := fs.Bool("dump-config", false, "print the effective configuration as YAML and exit")
	saveConfig := fs.String("save-config", "", "write the effective configuration to this file and exit")
	fs.Lookup("save-config").NoOptDefVal = config.GetConfigPath()
	noDotEnv := fs.Bool("no-dotenv", false, "do not load variables from .env")
	version := fs.Bool("version", false, "print version and exit")

	fs.String("dir", "", "directory containing images to process")
	fs.String("backend", "llamacpp", "inference backend: llamacpp or ollama")
	fs.String("api-url", "http://localhost:5001", "inference API URL")
	fs.String("api-password", "", "API password/token, sent as a bearer token when set")
	fs.String("model", "", "model name (required for ollama)")
	fs.Duration("timeout", 0, "per-request timeout (default 5m)")
	fs.Int("max-dimension", processing.DefaultMaxDimension, "long-side bound at scale 1.0")
	fs.StringSlice("scales", nil, "scale factors, in order (default 1,0.6667,0.3333)")
	fs.IntSlice("qualities", nil, "JPEG quality levels, in order (default 100,90,70,50,30,10)")
	fs.Float64("temperature", 0.1, "sampling temperature")
	fs.Int("max-tokens", 1024, "maximum tokens per answer")
	fs.String("output-dir", "", "output directory (default: <dir>_results)")
	fs.String("format", "jpg", "comparison image format: jpg|png|webp")
	fs.Bool("save-variants", false, "also write every encoded variant to disk")
	fs.String("variant-dir", "", "directory for saved variants (default: next to the source)")
	fs.Bool("font-metrics", false, "wrap text with exact glyph widths instead of the estimate")
	fs.String("results-db", "", "append every result to this SQLite database")
	fs.String("metrics-file", "", "write Prometheus metrics to this textfile when done")
	fs.String("log-level", "info", "log level: debug|info|warn|error")
	fs.String("log-format", "console", "log format: console|json")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *version {
		fmt.Println(imagesweep.Version)
		return 0
	}

	cfg, err := config.NewLoader().
		WithDotEnv(!*noDotEnv).
		WithFile(config.ResolvePath(*configPath)).
		WithFlags(fs).
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *saveConfig != "" {
		if err := cfg.SaveToFile(*saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Configuration saved to %s\n", *saveConfig)
		return 0
	}

	if *dumpConfig {
		if err := cfg.Dump(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Input.Dir == "" {
		logger.Error("missing input directory", zap.String("usage", fs.Name()+" --dir <images> [--api-url URL] [--api-password TOKEN] [--output-dir DIR]"))
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	inference, err := newClient(cfg)
	if err != nil {
		logger.Error("failed to create inference client", zap.String("backend", cfg.API.Backend), zap.Error(err))
		return 1
	}

	outDir := cfg.OutputDir()
	encoder := processing.NewEncoder()
	encoder.SaveVariants = cfg.Output.SaveVariants
	encoder.Dir = cfg.Output.VariantDir

	renderer := render.New(outDir)
	renderer.Format = cfg.Output.Format
	renderer.Quality = cfg.Output.Quality
	if cfg.Output.FontMetrics {
		renderer.UseFontMetrics()
	}

	sinks := storage.Multi{storage.NewJSONStore(outDir)}
	var ledger *storage.Ledger
	if cfg.Storage.ResultsDB != "" {
		ledger, err = storage.OpenLedger(cfg.Storage.ResultsDB)
		if err != nil {
			logger.Error("failed to open results database", zap.String("path", cfg.Storage.ResultsDB), zap.Error(err))
			return 1
		}
		defer ledger.Close()
		sinks = append(sinks, ledger)
	}

	var m *metrics.Metrics
	if cfg.Metrics.File != "" {
		m = metrics.NewMetrics()
	}

	harness, err := imagesweep.New(cfg.SweepConfig(), encoder, inference, imagesweep.Options{
		Renderer: renderer,
		Sink:     sinks,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("invalid sweep configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting sweep",
		zap.String("run_id", harness.RunID()),
		zap.String("backend", cfg.API.Backend),
		zap.String("api_url", cfg.API.URL),
		zap.String("output_dir", outDir))

	summary, err := harness.ProcessDir(ctx, cfg.Input.Dir)
	if err != nil {
		logger.Error("sweep aborted", zap.Error(err))
		return 1
	}

	if ledger != nil {
		ok, failed, err := ledger.Summary(context.Background(), summary.RunID)
		if err != nil {
			logger.Warn("failed to summarize results database", zap.Error(err))
		} else {
			logger.Info("results database updated", zap.Int64("succeeded", ok), zap.Int64("failed", failed))
		}
	}
	if err := m.WriteTextfile(cfg.Metrics.File); err != nil {
		logger.Warn("failed to write metrics", zap.Error(err))
	}

	logger.Info("processing complete, results saved", zap.String("output_dir", outDir))
	return 0
}

func newClient(cfg *config.Config) (client.InferenceClient, error) {
	switch cfg.API.Backend {
	case "ollama":
		return ollama.NewClient(cfg.API.URL, cfg.API.Timeout)
	case "llamacpp":
		return llamacpp.NewClient(cfg.API.URL, cfg.API.Token, cfg.API.Timeout)
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", cfg.API.Backend)
	}
}
