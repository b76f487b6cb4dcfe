package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"organizer/internal/backend"
	"organizer/internal/config"
	"organizer/internal/log"
)

// SetupLogger builds the process logger from LOG_LEVEL. verbose forces
// debug. The logger becomes the slog default.
func SetupLogger(level string, verbose bool) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	if verbose {
		cfg.Level = log.ParseLevel("debug")
	}
	cfg.Component = log.ComponentCLI
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development. A malformed file
// is logged and otherwise ignored.
func LoadEnvFile(logger *log.Logger) {
	if err := config.LoadEnvFile(""); err != nil {
		logger.Warn("Ignoring .env file", log.FieldError, err)
	}
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// Connect reads the environment and wires a session from it.
func Connect(ctx context.Context, opts *RootOptions) (*backend.Result, error) {
	LoadEnvFile(log.FromContext(ctx))

	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	// LOG_LEVEL may have come from .env.
	logger := SetupLogger(cfg.LogLevel, opts.Verbose)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	result, err := backend.NewFactory(logger).Create(ctx, bcfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot start session", err)
	}
	return result, nil
}

// GracefulShutdown returns a context carrying logger that is cancelled on
// SIGINT or SIGTERM. A
// second signal is left to the default handler so the process can still
// be killed while cleanup is stuck.
func GracefulShutdown(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(log.NewContext(context.Background(), logger))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
