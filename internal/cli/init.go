// Package cli provides the initialization steps shared by cmd/topup,
// cmd/topup-demo and cmd/balance-dev.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"topup/internal/backend"
	"topup/internal/config"
	tlog "topup/internal/log"
	"topup/internal/registry"
	"topup/internal/services"
)

// SetupLogger builds the root text logger at the given level and installs it
// as the slog default. An unknown level falls back to info.
func SetupLogger(level string) *tlog.Logger {
	lvl, err := tlog.ParseLevel(level)
	cfg := tlog.DefaultConfig()
	cfg.Level = lvl
	logger := tlog.New(cfg)
	tlog.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", tlog.FieldError, err.Error())
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// A missing file is not an error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads .env, reads the environment and validates the result.
func LoadConfig() (*config.Config, error) {
	LoadEnvFile()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadConfig is LoadConfig that exits the process on failure. The root
// logger is not set up yet at this point, so the error goes to stderr.
func MustLoadConfig() *config.Config {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *tlog.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", tlog.FieldOperation, tlog.OpShutdown)
	}()
	return ctx, stop
}

// Runtime is a fully wired top-up service with its backends.
type Runtime struct {
	Service *services.TopUpService
	Balance *backend.BalanceResult
	cleanup []backend.CleanupFunc
}

// Close releases the backends in reverse order of creation.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		if r.cleanup[i] == nil {
			continue
		}
		if err := r.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitTopUpService builds the balance backend, the optional event publisher
// and the engine from cfg.
func InitTopUpService(ctx context.Context, cfg *config.Config, logger *tlog.Logger) (*Runtime, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}

	factory := backend.NewFactory(logger)
	bal, err := factory.CreateBalance(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Balance: bal, cleanup: []backend.CleanupFunc{bal.Cleanup}}

	opts := services.DefaultOptions()
	opts.CompensateFailedCharge = cfg.CompensateFailedCharge
	opts.Logger = logger

	publisher, closePublisher, err := factory.CreatePublisher(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		opts.Publisher = publisher
		rt.cleanup = append(rt.cleanup, closePublisher)
	}

	rt.Service = services.NewTopUpService(bal.Service, registry.New(registry.MaxBeneficiaries), opts)
	return rt, nil
}
