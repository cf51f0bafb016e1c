package backend

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"topup/internal/amqp"
	"topup/internal/balance"
	"topup/internal/balance/memory"
)

// CleanupFunc releases a backend's resources.
type CleanupFunc func() error

// BalanceResult is a ready balance service. Breaker is nil when the circuit
// breaker is disabled; Store is set only for the memory backend. Cleanup is
// never nil.
type BalanceResult struct {
	Service balance.Service
	Breaker *balance.Breaker
	Store   *memory.Store
	Cleanup CleanupFunc
}

// Factory builds the balance service and the optional event publisher.
type Factory interface {
	CreateBalance(ctx context.Context, config Config) (*BalanceResult, error)
	// CreatePublisher returns a nil client when no AMQP URL is configured.
	CreatePublisher(ctx context.Context, config Config) (*amqp.Client, CleanupFunc, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// http backend
	APIURL  string
	Timeout time.Duration

	// memory backend
	InitialBalance decimal.Decimal

	BreakerEnabled bool
	Breaker        balance.BreakerConfig

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

type BackendType string

const (
	MemoryBackend BackendType = "memory"
	HTTPBackend   BackendType = "http"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, HTTPBackend:
		return true
	default:
		return false
	}
}
