package backend

import (
	"errors"
	"fmt"

	"topup/internal/balance"
	"topup/internal/config"
	"topup/internal/core"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	backendType := BackendType(appConfig.BalanceBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %q (expected one of %v)",
			appConfig.BalanceBackend, GetBackendTypes())
	}

	cfg := Config{
		Type:           backendType,
		APIURL:         appConfig.BalanceAPIURL,
		Timeout:        appConfig.BalanceTimeout,
		BreakerEnabled: appConfig.BreakerEnabled,
		Breaker: balance.BreakerConfig{
			ConsecutiveFailures: uint32(max(appConfig.BreakerConsecutiveFailures, 0)),
			OpenTimeout:         appConfig.BreakerOpenTimeout,
		},
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}

	if backendType == MemoryBackend {
		initial, err := core.ParseAmount(appConfig.BalanceInitial)
		if err != nil {
			return Config{}, fmt.Errorf("initial balance: %w", err)
		}
		cfg.InitialBalance = initial
	}

	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case HTTPBackend:
		if c.APIURL == "" {
			return errors.New("balance API URL is required for http backend")
		}
	case MemoryBackend:
		if c.InitialBalance.IsNegative() {
			return fmt.Errorf("initial balance %s must not be negative", c.InitialBalance)
		}
	}

	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPQueue == "") {
		return errors.New("AMQP exchange and queue are required when an AMQP URL is set")
	}

	return nil
}

// GetBackendTypes lists the supported balance backends.
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, HTTPBackend}
}
