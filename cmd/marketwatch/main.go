package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jessevdk/go-flags"

	"github.com/bakkerme/marketwatch/internal/api"
	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
	"github.com/bakkerme/marketwatch/internal/logging"
	"github.com/bakkerme/marketwatch/internal/notify"
	"github.com/bakkerme/marketwatch/internal/observability/metrics"
	"github.com/bakkerme/marketwatch/internal/observability/otelx"
	"github.com/bakkerme/marketwatch/internal/runner"
	"github.com/bakkerme/marketwatch/internal/runner/factory"
)

const shutdownTimeout = 15 * time.Second

type options struct {
	Once       bool     `long:"once" description:"Run a single check and exit"`
	ShowConfig bool     `long:"show-config" description:"Show the current configuration and exit"`
	TestNotify bool     `long:"test-notify" description:"Send a test notification and exit"`
	Serve      bool     `long:"serve" description:"Serve the HTTP API and run the monitor in the background"`
	LogLevel   string   `long:"log-level" choice:"DEBUG" choice:"INFO" choice:"WARNING" choice:"ERROR" description:"Set logging level"`
	EnvFile    []string `long:"env-file" default:".env" description:"Dotenv file to load; repeat for more"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 2
	}

	if err := config.LoadDotEnv(opts.EnvFile...); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		return 1
	}
	env := config.LoadEnv()
	if opts.LogLevel != "" {
		env.Log.Level = opts.LogLevel
	}

	logger, logCloser, err := logging.New(logging.Config{Level: env.Log.Level, File: env.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if opts.ShowConfig {
		return showConfig(env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otelx.Init(ctx, logger, env.OTel)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else if shutdownTracing != nil {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn("failed to flush traces", "error", err)
			}
		}()
	}

	m := metrics.New()
	f := factory.NewFromEnvConfig(logger, env, m)

	dispatcher, err := f.NewDispatcher()
	if err != nil {
		logger.Error("failed to set up notifications", "error", err)
		return 1
	}
	if opts.TestNotify {
		return testNotify(ctx, dispatcher)
	}

	var queries runner.QueryProvider = env
	if env.WatchFile != "" {
		wf, err := config.NewWatchFile(env.WatchFile, env.Search, logger)
		if err != nil {
			logger.Error("failed to load watch file", "path", env.WatchFile, "error", err)
			return 1
		}
		go func() {
			if err := wf.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("watch file reloads disabled", "error", err)
			}
		}()
		queries = wf
	}

	// --serve keeps the API up so the configuration can be inspected.
	if err := env.Err(); err != nil && !opts.Serve {
		logConfigError(logger, "cannot start", err)
		return 1
	}

	store, err := f.NewStore()
	if err != nil {
		if errors.Is(err, dedupe.ErrStoreLocked) {
			logger.Error("another monitor is already using the store", "path", env.Store.Path)
		} else {
			logger.Error("failed to open store", "error", err)
		}
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	cycle, err := f.NewCycle(store, dispatcher, queries)
	if err != nil {
		logger.Error("invalid item rule", "error", err)
		return 1
	}
	sources, err := f.NewSourceFactory()
	if err != nil {
		logConfigError(logger, "failed to set up source", setupErr(env, err))
		return 1
	}
	mon, err := f.NewRunner(cycle, sources)
	if err != nil {
		logConfigError(logger, "failed to set up monitor", setupErr(env, err))
		return 1
	}

	switch {
	case opts.Once:
		sent, err := mon.RunOnce(ctx)
		if err != nil {
			logConfigError(logger, "check failed", err)
			return 1
		}
		fmt.Printf("Check complete. Sent %d notifications.\n", sent)
		return 0
	case opts.Serve:
		server := api.NewServer(api.Options{
			Config:      env,
			Store:       store,
			Monitor:     mon,
			Notifier:    dispatcher,
			Sources:     sources,
			Metrics:     m.Handler(),
			BaseContext: ctx,
			Logger:      logger,
		})
		return serve(ctx, logger, server, mon, env.HTTP.Addr)
	default:
		sdNotify(logger, daemon.SdNotifyReady)
		defer sdNotify(logger, daemon.SdNotifyStopping)
		if err := mon.Run(ctx); err != nil {
			logConfigError(logger, "monitor failed", err)
			return 1
		}
		return 0
	}
}

func serve(ctx context.Context, logger *slog.Logger, server *api.Server, mon *runner.Runner, addr string) int {
	if err := mon.Start(ctx); err != nil {
		logConfigError(logger, "monitor not started, API only", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(addr) }()
	sdNotify(logger, daemon.SdNotifyReady)

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("api server failed", "error", err)
			code = 1
		}
	}
	sdNotify(logger, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown failed", "error", err)
	}
	if err := mon.Stop(); err != nil && !errors.Is(err, runner.ErrNotRunning) {
		logger.Warn("monitor stop failed", "error", err)
	}
	return code
}

func showConfig(env config.EnvConfig) int {
	fmt.Print(env.Summary())
	problems := env.Validate()
	if len(problems) == 0 {
		return 0
	}
	fmt.Println("\n⚠️ Configuration Errors:")
	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
	return 1
}

func testNotify(ctx context.Context, dispatcher *notify.Dispatcher) int {
	item := core.Item{
		ID:          "test123",
		Title:       "Test Listing - Marketplace Monitor",
		Price:       "$0",
		Location:    "Test Location",
		URL:         "https://www.facebook.com/marketplace",
		Description: "This is a test notification from the Marketplace Monitor.",
	}
	if dispatcher.NotifyOne(ctx, item) {
		fmt.Println("✅ Test notification sent successfully!")
		return 0
	}
	fmt.Println("❌ Failed to send test notification")
	return 1
}

func logConfigError(logger *slog.Logger, msg string, err error) {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		logger.Error(msg+": configuration errors", "problems", verr.Problems)
		return
	}
	logger.Error(msg, "error", err)
}

// setupErr prefers the full list of configuration problems over the first
// error a constructor hit.
func setupErr(env config.EnvConfig, err error) error {
	if verr := env.Err(); verr != nil {
		return verr
	}
	return err
}

func sdNotify(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug("sd_notify failed", "state", state, "error", err)
	}
}
