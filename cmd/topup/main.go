package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"topup/internal/cli"
	"topup/internal/config"
	apphttp "topup/internal/http"
	tlog "topup/internal/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg.LogLevel)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server error", tlog.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *tlog.Logger) error {
	rt, err := cli.InitTopUpService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Cleanup failed", tlog.FieldError, err.Error())
		}
	}()

	srv := apphttp.NewServer(":"+cfg.Port, rt.Service, logger,
		apphttp.WithRateLimit(cfg.RateLimitPerMinute),
		apphttp.WithBalanceTimeout(cfg.BalanceTimeout))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting top-up server",
			"port", cfg.Port,
			"backend", cfg.BalanceBackend,
			"breaker", cfg.BreakerEnabled,
			tlog.FieldBreakerState, breakerState(rt),
			"events", cfg.AMQPURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down server", tlog.FieldOperation, tlog.OpShutdown)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func breakerState(rt *cli.Runtime) string {
	if rt.Balance == nil || rt.Balance.Breaker == nil {
		return "disabled"
	}
	return rt.Balance.Breaker.State()
}
