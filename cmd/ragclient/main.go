package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/app"
	"github.com/GriffinCanCode/ragstudio/internal/domain/generation"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/config"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file")
	resource := flag.String("resource", "", "Resource to generate")
	scope := flag.String("scope", "", "Conversation scope to open")
	sessionID := flag.String("session", "", "Session id to resume in scope")
	message := flag.String("message", "", "Message to send in scope")
	history := flag.Bool("history", false, "List stored sessions of scope")
	logLevel := flag.String("log-level", "", "Override log level")
	diag := flag.Bool("diagnostics", false, "Serve the diagnostics API")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ragclient: %v\n", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *diag {
		cfg.Diagnostics.Enabled = true
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		resource:  *resource,
		scope:     *scope,
		sessionID: *sessionID,
		message:   *message,
		history:   *history,
	}
	if err := run(ctx, cfg, logger.Logger, opts); err != nil {
		logger.Error("ragclient failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

type options struct {
	resource  string
	scope     string
	sessionID string
	message   string
	history   bool
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts options) error {
	if opts.resource == "" && opts.scope == "" {
		return errors.New("nothing to do: pass -resource or -scope")
	}

	rt, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	if cfg.Diagnostics.Enabled {
		addr, err := rt.StartDiagnostics()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "diagnostics on http://%s\n", addr)
	}

	if opts.scope != "" {
		if err := converse(ctx, rt, logger, opts); err != nil {
			return err
		}
	}
	if opts.resource != "" {
		return generate(ctx, rt, logger, opts.resource)
	}
	return nil
}

func generate(ctx context.Context, rt *app.App, logger *zap.Logger, resource string) error {
	console := newConsole(os.Stdout)
	runner, err := rt.Runner(resource, app.Surfaces{
		Primary:   console.surface("main"),
		Secondary: console.surface("log"),
		Indicator: console,
	})
	if err != nil {
		return err
	}

	taskID, err := runner.Start(ctx)
	if err != nil {
		return err
	}
	console.printf("task %s started for %s\n", taskID, resource)

	state, err := runner.Wait(ctx)
	if err != nil {
		return fmt.Errorf("interrupted in %s: %w", state, err)
	}
	if state == generation.StateError {
		return fmt.Errorf("generation of %s failed", resource)
	}

	status, err := rt.Status.Get(ctx, resource)
	if err != nil {
		logger.Warn("Status unavailable", zap.String("resource", resource), zap.Error(err))
		return nil
	}
	console.printf("%s: %d files, %d chunks, indexed=%t\n", status.Resource, status.Files, status.Chunks, status.Indexed)
	return nil
}
