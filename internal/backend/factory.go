package backend

import (
	"context"
	"fmt"

	"topup/internal/amqp"
	"topup/internal/balance"
	"topup/internal/balance/memory"
	tlog "topup/internal/log"
)

const breakerName = "balance-service"

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *tlog.Logger
}

func NewFactory(logger *tlog.Logger) Factory {
	if logger == nil {
		logger = tlog.FromContext(context.Background())
	}
	return &DefaultFactory{logger: logger.WithComponent(tlog.ComponentBackend)}
}

// CreateBalance implements Factory.CreateBalance
func (f *DefaultFactory) CreateBalance(ctx context.Context, config Config) (*BalanceResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		svc     balance.Service
		store   *memory.Store
		cleanup CleanupFunc = func() error { return nil }
	)
	switch config.Type {
	case HTTPBackend:
		client, err := balance.NewClient(config.APIURL, config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize balance client: %w", err)
		}
		svc = client
		cleanup = client.Close
		f.logger.InfoContext(ctx, "Initialized HTTP balance backend",
			"url", config.APIURL, "timeout", config.Timeout.String())
	case MemoryBackend:
		store = memory.New(config.InitialBalance)
		svc = store
		f.logger.InfoContext(ctx, "Initialized memory balance backend",
			tlog.FieldBalance, config.InitialBalance.String())
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	result := &BalanceResult{Service: svc, Store: store, Cleanup: cleanup}
	if config.BreakerEnabled {
		result.Breaker = balance.NewBreaker(breakerName, svc, config.Breaker)
		result.Service = result.Breaker
		f.logger.InfoContext(ctx, "Circuit breaker enabled",
			"consecutive_failures", config.Breaker.ConsecutiveFailures,
			"open_timeout", config.Breaker.OpenTimeout.String())
	}
	return result, nil
}

// CreatePublisher implements Factory.CreatePublisher. An unreachable broker is
// an error.
func (f *DefaultFactory) CreatePublisher(ctx context.Context, config Config) (*amqp.Client, CleanupFunc, error) {
	if config.AMQPURL == "" {
		f.logger.InfoContext(ctx, "AMQP not configured, top-up events disabled")
		return nil, func() error { return nil }, nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client, client.Close, nil
}
