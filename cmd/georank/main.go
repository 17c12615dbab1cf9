// Package main is the georank CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/openclaw/georanking/internal/config"
	"github.com/openclaw/georanking/internal/export"
	"github.com/openclaw/georanking/internal/geoadmin"
	"github.com/openclaw/georanking/internal/gwr"
	"github.com/openclaw/georanking/internal/httpclient"
	"github.com/openclaw/georanking/internal/intel"
	"github.com/openclaw/georanking/internal/jobs"
	"github.com/openclaw/georanking/internal/logging"
	"github.com/openclaw/georanking/internal/news"
	"github.com/openclaw/georanking/internal/osm"
	"github.com/openclaw/georanking/internal/resolver"
	"github.com/openclaw/georanking/internal/server"
	"github.com/openclaw/georanking/internal/sources"
	"github.com/openclaw/georanking/internal/watcher"
	"github.com/openclaw/georanking/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/georank/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. A missing default file falls back to built-in defaults so the
// service runs with zero configuration. Environment overrides always apply
// last. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	resolved := path
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				resolved = fallback
			}
		}
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
			config.ApplyEnv(cfg)
			return cfg, "", nil
		}
		return nil, "", err
	}
	config.ApplyEnv(cfg)
	return cfg, resolved, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve":
		runServe()
	case "analyze":
		runAnalyze()
	case "batch":
		runBatch()
	case "cleanup":
		runCleanup()
	case "version", "--version", "-v":
		fmt.Printf("georank version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func clientOptions(cfg *config.Config, emitter *logging.Emitter) httpclient.Options {
	emit := func(event, level string, fields map[string]any) {
		emitter.Emit(event, level, "", "", "", fields)
	}
	return httpclient.Options{
		Timeout:       time.Duration(cfg.Client.TimeoutSeconds * float64(time.Second)),
		Retries:       cfg.Client.Retries,
		Backoff:       time.Duration(cfg.Client.BackoffSeconds * float64(time.Second)),
		MinInterval:   time.Duration(cfg.Client.MinIntervalSeconds * float64(time.Second)),
		MaxRetryAfter: time.Duration(cfg.Client.MaxRetryAfter * float64(time.Second)),
		CacheTTL:      time.Duration(cfg.Client.CacheTTLSeconds * float64(time.Second)),
		DiskCacheDir:  cfg.Client.DiskCacheDir,
		UserAgent:     cfg.Client.UserAgent,
		Emit:          emit,
	}
}

// newPipelineFactory builds per-request resolvers over a shared upstream
// client. The source registry is request-scoped.
func newPipelineFactory(cfg *config.Config, emitter *logging.Emitter, logger *zap.Logger) server.PipelineFactory {
	hc := httpclient.New(clientOptions(cfg, emitter))
	osmDelay := time.Duration(cfg.Analyze.OSMMinDelaySeconds * float64(time.Second))
	return func() *resolver.Resolver {
		registry := sources.NewRegistry()
		return &resolver.Resolver{
			Geo:      geoadmin.New(hc, registry),
			OSM:      osm.New(hc, registry, osmDelay),
			News:     news.New(hc, registry),
			Registry: registry,
			Logger:   logger,
			Adaptive: intel.DefaultAdaptiveFetch(),
		}
	}
}

// newEmitter writes structured events to stdout and, when a trace log path is
// configured, to the trace log file the /debug/trace endpoint reads.
func newEmitter(cfg *config.Config) (*logging.Emitter, func(), error) {
	if cfg.Trace.LogPath == "" {
		return logging.NewEmitter(os.Stdout), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Trace.LogPath), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(cfg.Trace.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewEmitter(io.MultiWriter(os.Stdout, f)), func() { _ = f.Close() }, nil
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	emitter, closeEmitter, err := newEmitter(cfg)
	if err != nil {
		logger.Fatal("Failed to open trace log", zap.Error(err))
	}
	defer closeEmitter()

	store, err := jobs.Open(cfg.Jobs.StoreFile)
	if err != nil {
		logger.Fatal("Failed to open job store", zap.Error(err))
	}

	pipeline := newPipelineFactory(cfg, emitter, logger)
	dicts := gwr.BuildDictionaries(cfg.Dictionary.Version)
	analyzeTimeout := time.Duration(cfg.Analyze.DefaultTimeoutSeconds * float64(time.Second))

	runtime := jobs.NewRuntime(store, jobs.RuntimeOptions{
		StageDelay:           time.Duration(cfg.Jobs.StageDelayMillis) * time.Millisecond,
		EnableFaultInjection: cfg.Server.FaultInjection,
		Logger:               logger,
		Analyze: func(ctx context.Context, query, intelligenceMode string) (map[string]any, error) {
			ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
			defer cancel()
			opts := resolver.DefaultOptions()
			opts.Mode = intelligenceMode
			opts.CandidateLimit = cfg.Analyze.CandidateLimit
			opts.CandidatePreview = cfg.Analyze.CandidatePreview
			report, err := pipeline().BuildReport(ctx, query, opts)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"ok":     true,
				"result": server.GroupedResult(dicts, report, "compact"),
			}, nil
		},
	})
	runtime.Start()
	if n := runtime.EnqueuePendingJobs(); n > 0 {
		logger.Info("re-enqueued unfinished jobs", zap.Int("count", n))
	}
	defer runtime.Stop()

	srv := server.New(cfg, pipeline, store, runtime, emitter, logger)

	var cfgWatcher *watcher.ConfigWatcher
	if resolvedConfigPath != "" {
		cfgWatcher = watcher.NewConfigWatcher(resolvedConfigPath, func(path string) {
			fresh, err := config.Load(path)
			if err != nil {
				logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
				return
			}
			config.ApplyEnv(fresh)
			// Only toggles that take effect per request are hot-reloaded;
			// listener settings need a restart.
			cfg.Server.AuthToken = fresh.Server.AuthToken
			cfg.Server.CORSAllowOrigins = fresh.Server.CORSAllowOrigins
			cfg.Server.FaultInjection = fresh.Server.FaultInjection
			cfg.Trace = fresh.Trace
			logger.Info("config reloaded", zap.String("path", path))
		}, watcher.WithLogger(logger))
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := cfgWatcher.Start(watchCtx); err != nil {
			logger.Warn("config watcher failed to start", zap.Error(err))
		} else {
			defer cfgWatcher.Stop()
		}
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runAnalyze() {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	mode := fs.String("mode", "basic", "intelligence mode: basic, extended, or risk")
	responseMode := fs.String("response-mode", "compact", "response mode: compact or verbose")
	timeoutSeconds := fs.Float64("timeout", 0, "analysis timeout in seconds (0 = config default)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: georank analyze [flags] <address-query>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Println("Usage: georank analyze [flags] <address-query>")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	timeout := time.Duration(cfg.Analyze.DefaultTimeoutSeconds * float64(time.Second))
	if *timeoutSeconds > 0 {
		timeout = time.Duration(*timeoutSeconds * float64(time.Second))
	}

	emitter := logging.NewEmitter(io.Discard)
	pipeline := newPipelineFactory(cfg, emitter, logger)
	dicts := gwr.BuildDictionaries(cfg.Dictionary.Version)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	opts := resolver.DefaultOptions()
	opts.Mode = *mode
	opts.CandidateLimit = cfg.Analyze.CandidateLimit
	opts.CandidatePreview = cfg.Analyze.CandidatePreview

	report, err := pipeline().BuildReport(ctx, query, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(server.GroupedResult(dicts, report, *responseMode)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runBatch() {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	column := fs.String("column", "adresse", "CSV column holding the address")
	mode := fs.String("mode", "basic", "intelligence mode for every row")
	out := fs.String("out", "", "output file; format from extension: .csv, .jsonl, or .xlsx")
	errorsOut := fs.String("errors-out", "", "optional CSV with only the failed rows")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 || *out == "" {
		fmt.Println("Usage: georank batch -out results.xlsx [flags] <input.csv>")
		os.Exit(1)
	}
	inputPath := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	emitter := logging.NewEmitter(io.Discard)
	pipeline := newPipelineFactory(cfg, emitter, logger)
	timeout := time.Duration(cfg.Analyze.DefaultTimeoutSeconds * float64(time.Second))

	analyze := func(ctx context.Context, query string) (map[string]any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		opts := resolver.DefaultOptions()
		opts.Mode = *mode
		opts.CandidateLimit = cfg.Analyze.CandidateLimit
		opts.CandidatePreview = cfg.Analyze.CandidatePreview
		return pipeline().BuildReport(ctx, query, opts)
	}

	outcome, err := export.RunBatch(context.Background(), inputPath, *column, analyze)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Batch failed: %v\n", err)
		os.Exit(1)
	}

	if err := writeBatchOutput(*out, outcome.Rows); err != nil {
		fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
		os.Exit(1)
	}
	if *errorsOut != "" {
		if errRows := export.ErrorRows(outcome.Rows); len(errRows) > 0 {
			if err := export.WriteCSV(*errorsOut, export.FlattenRows(errRows)); err != nil {
				fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
				os.Exit(1)
			}
		}
	}

	fmt.Printf("processed=%d ok=%d error=%d skipped_empty=%d -> %s\n",
		outcome.Stats.Processed, outcome.Stats.OK, outcome.Stats.Errors, outcome.Stats.SkippedEmpty, *out)
}

func writeBatchOutput(path string, rows []map[string]any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return export.WriteCSV(path, export.FlattenRows(rows))
	case ".jsonl":
		return export.WriteJSONL(path, rows)
	case ".xlsx":
		return export.WriteXLSX(path, export.FlattenRows(rows))
	default:
		return fmt.Errorf("unsupported output extension %q; use .csv, .jsonl, or .xlsx", filepath.Ext(path))
	}
}

func runCleanup() {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	storeFile := fs.String("store", "", "job store file (default from config)")
	resultsTTL := fs.Float64("results-ttl", -1, "results TTL in seconds (-1 = env/default, 0 = disable)")
	eventsTTL := fs.Float64("events-ttl", -1, "events TTL in seconds (-1 = env/default, 0 = disable)")
	dryRun := fs.Bool("dry-run", false, "report what would be deleted without deleting")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	path := *storeFile
	if path == "" {
		path = cfg.Jobs.StoreFile
	}
	store, err := jobs.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job store: %v\n", err)
		os.Exit(1)
	}

	results, events, err := cleanupTTLs(*resultsTTL, *eventsTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	summary, err := store.CleanupRetention(results, events, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// cleanupTTLs resolves TTL flags against the environment. A zero TTL disables
// that retention class; negative flags defer to env or built-in defaults.
func cleanupTTLs(resultsFlag, eventsFlag float64) (*time.Duration, *time.Duration, error) {
	resolve := func(flagValue float64, envName string, fallback time.Duration) (*time.Duration, error) {
		if flagValue == 0 {
			return nil, nil
		}
		if flagValue > 0 {
			d := time.Duration(flagValue * float64(time.Second))
			return &d, nil
		}
		d, err := jobs.RetentionTTLFromEnv(envName, fallback)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	results, err := resolve(resultsFlag, "ASYNC_RESULTS_TTL_SECONDS", jobs.DefaultResultsRetention)
	if err != nil {
		return nil, nil, err
	}
	events, err := resolve(eventsFlag, "ASYNC_EVENTS_TTL_SECONDS", jobs.DefaultEventsRetention)
	if err != nil {
		return nil, nil, err
	}
	return results, events, nil
}

func printUsage() {
	fmt.Println(`georank - Swiss address intelligence service

Usage:
  georank serve [flags]             Start the HTTP API
  georank analyze [flags] <query>   Resolve one address and print the report
  georank batch [flags] <input.csv> Resolve a CSV of addresses into a file
  georank cleanup [flags]           Apply retention to the async job store
  georank version                   Show version
  georank help                      Show this help

Serve Flags:
  --config string    Config file path (default: /usr/local/etc/georank/config.yaml)
  --debug            Enable debug logging

Analyze Flags:
  --config string        Config file path
  --mode string          Intelligence mode: basic, extended, or risk (default: basic)
  --response-mode string Response mode: compact or verbose (default: compact)
  --timeout float        Timeout in seconds (default from config)

Batch Flags:
  --config string      Config file path
  --column string      CSV column holding the address (default: adresse)
  --mode string        Intelligence mode for every row (default: basic)
  --out string         Output file; format from extension: .csv, .jsonl, or .xlsx
  --errors-out string  Optional CSV with only the failed rows

Cleanup Flags:
  --config string      Config file path
  --store string       Job store file (default from config)
  --results-ttl float  Results TTL in seconds (-1 = env/default, 0 = disable)
  --events-ttl float   Events TTL in seconds (-1 = env/default, 0 = disable)
  --dry-run            Report what would be deleted without deleting

Examples:
  georank serve
  georank analyze "Bahnhofstrasse 1, 8001 Zürich"
  georank analyze --mode risk "Seestrasse 10, 8002 Zürich"
  georank batch --column adresse --out results.xlsx addresses.csv
  georank cleanup --dry-run`)
}
