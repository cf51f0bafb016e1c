// Command topup-events consumes the events published by the top-up service
// and audits them.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"topup/internal/amqp"
	"topup/internal/cache"
	"topup/internal/cli"
	tlog "topup/internal/log"
	"topup/internal/worker"
)

const cleanupInterval = 10 * time.Minute

func main() {
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg.LogLevel)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required to consume top-up events")
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", tlog.FieldError, err.Error())
		os.Exit(1)
	}
	defer client.Close()

	seen := cache.NewLRU[struct{}](worker.DefaultSeenSize, worker.DefaultSeenTTL, nil)
	janitor := cache.NewManager(func(removed int) {
		logger.Debug("Expired seen event IDs", "removed", removed)
	})
	janitor.Register(seen)
	janitor.StartCleanup(cleanupInterval)
	defer janitor.Stop()

	audit := worker.NewAuditWorker(logger, seen, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting top-up event consumer", "queue", cfg.AMQPQueue, "exchange", cfg.AMQPExchange)
		return client.ConsumeTopUpEvents(gctx, func(evt *amqp.TopUpEvent) error {
			return audit.HandleTopUpEvent(gctx, evt)
		})
	})

	err = g.Wait()
	s := audit.Stats()
	logger.Info("Top-up event consumer stopped",
		"completed", s.Completed,
		"rejected", s.Rejected,
		"inconsistencies", s.Inconsistencies,
		"duplicates", s.Duplicates)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Event consumption failed", tlog.FieldError, err.Error())
		os.Exit(1)
	}
}
