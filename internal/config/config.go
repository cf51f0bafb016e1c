package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"topup/internal/core"
	tlog "topup/internal/log"
)

const (
	BackendMemory = "memory"
	BackendHTTP   = "http"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int // per client on write endpoints; 0 disables

	// Remote balance service
	BalanceBackend string
	BalanceAPIURL  string
	BalanceTimeout time.Duration
	BalanceInitial string // opening balance of the memory backend

	// Circuit breaker around the balance service
	BreakerEnabled             bool
	BreakerConsecutiveFailures int
	BreakerOpenTimeout         time.Duration

	// AMQP (optional; empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Top-up behaviour
	CompensateFailedCharge bool

	LogLevel     string
	DemoAttempts int
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		BalanceBackend: getEnv("BALANCE_BACKEND", BackendMemory),
		BalanceAPIURL:  getEnv("BALANCE_API_URL", "https://localhost:7033/balance"),
		BalanceTimeout: getEnvDuration("BALANCE_TIMEOUT", 10*time.Second),
		BalanceInitial: getEnv("BALANCE_INITIAL", "1000"),

		BreakerEnabled:             getEnvBool("BREAKER_ENABLED", true),
		BreakerConsecutiveFailures: getEnvInt("BREAKER_CONSECUTIVE_FAILURES", 5),
		BreakerOpenTimeout:         getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "topup"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "topup_events"),

		CompensateFailedCharge: getEnvBool("COMPENSATE_FAILED_CHARGE", true),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DemoAttempts: getEnvInt("DEMO_ATTEMPTS", 50),
	}
}

// Validate validates the configuration and returns an error listing every problem
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	switch c.BalanceBackend {
	case BackendMemory:
		if v, err := core.ParseAmount(c.BalanceInitial); err != nil {
			errors = append(errors, fmt.Sprintf("invalid initial balance '%s': must be a decimal number", c.BalanceInitial))
		} else if v.IsNegative() {
			errors = append(errors, fmt.Sprintf("invalid initial balance %s: must not be negative", v))
		}
	case BackendHTTP:
		if u, err := url.Parse(c.BalanceAPIURL); err != nil || c.BalanceAPIURL == "" {
			errors = append(errors, fmt.Sprintf("invalid balance API URL '%s'", c.BalanceAPIURL))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid balance API URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		} else if u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid balance API URL '%s': missing host", c.BalanceAPIURL))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid balance backend '%s': must be one of [%s %s]", c.BalanceBackend, BackendMemory, BackendHTTP))
	}

	if c.BalanceTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid balance timeout %v: must be positive", c.BalanceTimeout))
	} else if c.BalanceTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid balance timeout %v: must be at most 2 minutes", c.BalanceTimeout))
	}

	if c.BreakerEnabled {
		if c.BreakerConsecutiveFailures < 1 {
			errors = append(errors, fmt.Sprintf("invalid breaker failure threshold %d: must be at least 1", c.BreakerConsecutiveFailures))
		}
		if c.BreakerOpenTimeout < time.Second {
			errors = append(errors, fmt.Sprintf("invalid breaker open timeout %v: must be at least 1 second", c.BreakerOpenTimeout))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := tlog.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if c.DemoAttempts < 0 {
		errors = append(errors, fmt.Sprintf("invalid demo attempts %d: must not be negative", c.DemoAttempts))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
