package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/assistant"
	"github.com/aschepis/backscratcher/assist/config"
	"github.com/aschepis/backscratcher/assist/llm"
	assistlogger "github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/metrics"
	"github.com/aschepis/backscratcher/assist/retry"
	"github.com/aschepis/backscratcher/assist/usage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			fmt.Fprintf(os.Stderr, "%s\n%s\n", appErr.Message, appErr.SuggestedAction)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// commonFlags are shared by the chat and automation modes.
type commonFlags struct {
	configPath  string
	logFile     string
	pretty      bool
	notify      bool
	metricsAddr string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", config.GetConfigPath(), "Path to config file")
	fs.StringVar(&c.logFile, "logfile", "", "Path to log file. If not set, logs to stderr")
	fs.BoolVar(&c.pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")
	fs.BoolVar(&c.notify, "notify", false, "Raise desktop notifications for errors")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g., localhost:9090)")
}

// app holds what both modes need after startup.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	events *assistlogger.Logger
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "automation" {
		return runAutomation(args[1:])
	}
	return runChat(args)
}

// setup loads configuration and initializes logging. A config that cannot be
// loaded is reported as config-load-failed.
func setup(flags *commonFlags, source assistlogger.Source) (*app, error) {
	// Validate that --logfile and --pretty are mutually exclusive
	if flags.logFile != "" && flags.pretty {
		return nil, fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	cfg, cfgErr := config.Load(flags.configPath)

	levelName := os.Getenv("LOG_LEVEL")
	if cfgErr == nil && levelName == "" {
		levelName = cfg.LogLevel
	}
	log, err := assistlogger.InitWithLevel(flags.logFile, flags.pretty, levelName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	events := assistlogger.New(source, assistlogger.NewZerologSink(log))
	if flags.notify {
		events.AddSink(assistlogger.NewNotifySink("Assist", log))
	}

	if cfgErr != nil {
		appErr := apperr.New(apperr.CodeConfigLoadFailed, cfgErr, map[string]any{"path": flags.configPath}, "")
		events.LogError("Failed to load configuration", appErr)
		return nil, appErr
	}

	log.Info().
		Str("config", flags.configPath).
		Str("provider", cfg.Provider).
		Bool("demoMode", cfg.Demo()).
		Msg("Loaded configuration")

	return &app{cfg: cfg, log: log, events: events}, nil
}

// newClient resolves the provider and builds the assistant client for it.
func (a *app) newClient(tracker *usage.Tracker) (*assistant.Client, error) {
	key, err := config.ResolveProvider(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider: %w", err)
	}
	transport, err := config.NewTransport(key, a.log)
	if err != nil {
		return nil, err
	}
	a.log.Info().Str("provider", key.Provider).Bool("credential", key.HasCredential()).Msg("Using provider")

	classifier := a.cfg.NewClassifier()
	exec := retry.New(a.cfg.Retry, retry.WithClassifier(classifier), retry.WithLogger(a.events))
	opts := []assistant.Option{
		assistant.WithLanes(a.cfg.LanesFor(key.Provider)),
		assistant.WithClassifier(classifier),
		assistant.WithRetry(exec),
		assistant.WithLogger(a.events),
		assistant.WithUsageRecorder(tracker),
	}
	if key.Provider == llm.ProviderOllama {
		opts = append(opts, assistant.WithoutCredential())
	}
	return assistant.New(transport, key.APIKey, opts...)
}

// startUsage creates the usage tracker and, when configured, its reset
// schedule.
func (a *app) startUsage(ctx context.Context) (*usage.Tracker, error) {
	tracker := usage.NewTracker(a.cfg.Pricing, a.cfg.Usage.Limit, a.log)
	if a.cfg.Usage.ResetSchedule == "" {
		return tracker, nil
	}
	scheduler, err := usage.NewScheduler(tracker, a.cfg.Usage.ResetSchedule, usage.DefaultPollInterval, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage scheduler: %w", err)
	}
	go scheduler.Start(ctx)
	return tracker, nil
}

// serveMetrics serves /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
