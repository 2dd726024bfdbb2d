package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"profileindexer/config"
	"profileindexer/index"
	"profileindexer/logger"
	"profileindexer/reader"
	"profileindexer/runner"
	"profileindexer/writer"
)

const defaultConfigPath = "config/config.yml"

// Exit codes. No data and no profiles are not failures.
const (
	exitOK     = 0
	exitFailed = 1
	exitLocked = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	fs := flag.NewFlagSet("profileindexer", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	profiler := fs.String("profiler", "", "Profiler identifier, e.g. RS01SBPS")
	sourceFlag := fs.String("source", "", "Data source: object_store, local or catalog (default from config)")
	dataPath := fs.String("data", "", "Local parquet file or directory for the local source")
	modeFlag := fs.String("mode", string(runner.ModeAppend), "Run mode: append, create or test")
	start := fs.String("start", "", "Start of the test window")
	end := fs.String("end", "", "End of the test window")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath, defaultConfigPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return exitFailed
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return exitFailed
	}

	mainLog := log.WithComponent("main")
	mainLog.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting profileindexer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	if *profiler == "" {
		mainLog.WithFields(logger.Fields{"known": cfg.ProfilerIDs()}).Error("-profiler is required")
		return exitFailed
	}
	pcfg, err := cfg.Profiler(*profiler)
	if err != nil {
		mainLog.WithError(err).Error("unknown profiler")
		return exitFailed
	}

	mode, err := runner.ParseMode(*modeFlag)
	if err != nil {
		mainLog.WithError(err).Error("invalid mode")
		return exitFailed
	}

	kind := cfg.Source.Kind
	if *sourceFlag != "" {
		if kind, err = config.ParseSourceKind(*sourceFlag); err != nil {
			mainLog.WithError(err).Error("invalid source")
			return exitFailed
		}
	}

	// The lock covers the main index and the test file alike, so it is taken
	// before the plan reads the index tail.
	if err := os.MkdirAll(filepath.Dir(pcfg.IndexFile), 0o755); err != nil {
		mainLog.WithError(err).Error("failed to create index directory")
		return exitFailed
	}
	lock, err := index.Acquire(pcfg.IndexFile)
	if err != nil {
		if errors.Is(err, index.ErrLocked) {
			mainLog.WithError(err).Error("another run holds the index")
			return exitLocked
		}
		mainLog.WithError(err).Error("failed to lock index")
		return exitFailed
	}
	defer func() {
		if err := lock.Release(); err != nil {
			mainLog.WithError(err).Warn("failed to release index lock")
		}
	}()

	plan, err := runner.NewPlan(mode, *profiler, pcfg, runner.Options{Start: *start, End: *end}, time.Now())
	if err != nil {
		mainLog.WithError(err).Error("cannot plan run")
		return exitFailed
	}

	src, err := reader.New(cfg, *profiler, kind, *dataPath)
	if err != nil {
		mainLog.WithError(err).Error("failed to create data source")
		return exitFailed
	}

	var pub runner.Publisher
	if cfg.Publish.Enabled {
		p, err := writer.NewPublisher(ctx, cfg)
		if err != nil {
			mainLog.WithError(err).Error("failed to create publisher")
			return exitFailed
		}
		pub = p
	}

	res, err := runner.New(src, cfg, pub).Run(ctx, plan)
	if err != nil {
		mainLog.WithError(err).Error("run failed")
		return exitFailed
	}

	fields := logger.Fields{
		"run_id":  res.RunID,
		"outcome": string(res.Outcome),
		"index":   res.IndexPath,
		"elapsed": res.Elapsed.String(),
	}
	switch res.Outcome {
	case runner.OutcomeWritten:
		fields["profiles"] = len(res.Records)
		mainLog.WithFields(fields).Info(fmt.Sprintf("indexed %d profiles", len(res.Records)))
	case runner.OutcomeNoData:
		mainLog.WithFields(fields).Info("no data to index")
	case runner.OutcomeNoProfiles:
		mainLog.WithFields(fields).Info("no profiles detected")
	}
	return exitOK
}
