// Command balance-dev serves an in-memory balance under /balance/ so the
// http backend can be exercised without the real service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"topup/internal/balance/memory"
	"topup/internal/cli"
	"topup/internal/core"
	tlog "topup/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(tlog.ComponentBalance)

	addr := os.Getenv("BALANCE_DEV_ADDR")
	if addr == "" {
		addr = ":7033"
	}
	initialText := os.Getenv("BALANCE_INITIAL")
	if initialText == "" {
		initialText = "1000"
	}
	initial, err := core.ParseAmount(initialText)
	if err != nil {
		logger.Error("Invalid BALANCE_INITIAL", "value", initialText, tlog.FieldError, err.Error())
		os.Exit(1)
	}

	store := memory.New(initial)
	mux := http.NewServeMux()
	mux.Handle("/balance/", http.StripPrefix("/balance", store.Handler()))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Serving development balance", "addr", addr, tlog.FieldBalance, initial.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Balance server error", tlog.FieldError, err.Error())
		os.Exit(1)
	}
}
