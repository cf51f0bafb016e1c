package balance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"topup/internal/core"
)

const (
	// DefaultTimeout bounds every round trip when no timeout is configured.
	DefaultTimeout = 10 * time.Second

	// maxBodyBytes caps how much of a response body is read. A balance is a
	// short decimal string; anything longer is malformed.
	maxBodyBytes = 1 << 10
)

// Client talks to the remote balance service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the service rooted at baseURL, e.g.
// "https://localhost:7033/balance". A non-positive timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP is NewClient with a caller-supplied http.Client. The
// client's own Timeout bounds each round trip.
func NewClientWithHTTP(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse balance URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid balance URL scheme '%s': must be 'http' or 'https'", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid balance URL '%s': missing host", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		client:  hc,
	}, nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Fetch reads the current balance with GET <base>/.
func (c *Client) Fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return decimal.Zero, &RemoteError{Op: OpFetch, Detail: err.Error(), Err: core.ErrRemoteUnavailable}
	}
	return c.do(req, OpFetch)
}

// Credit adds amount with POST <base>/credit and returns the resulting balance.
func (c *Client) Credit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return c.post(ctx, OpCredit, amount)
}

// Debit subtracts amount with POST <base>/debit and returns the resulting balance.
func (c *Client) Debit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return c.post(ctx, OpDebit, amount)
}

func (c *Client) post(ctx context.Context, op string, amount decimal.Decimal) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, strings.NewReader(core.FormatAmount(amount)))
	if err != nil {
		return decimal.Zero, &RemoteError{Op: op, Detail: err.Error(), Err: core.ErrRemoteUnavailable}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) (decimal.Decimal, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		slog.WarnContext(req.Context(), "Balance request failed",
			"operation", op,
			"error", err,
			"timeout", isTimeout(err),
			"duration_ms", time.Since(start).Milliseconds())
		return decimal.Zero, &RemoteError{Op: op, Detail: err.Error(), Err: core.ErrRemoteUnavailable}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(req.Context(), "Balance request rejected",
			"operation", op,
			"status_code", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())
		return decimal.Zero, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: core.ErrRemoteRejected}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return decimal.Zero, &RemoteError{Op: op, StatusCode: resp.StatusCode, Detail: "read body", Err: core.ErrRemoteUnavailable}
	}
	if len(body) > maxBodyBytes {
		return decimal.Zero, &RemoteError{Op: op, Detail: "response body too large", Err: core.ErrRemoteUnavailable}
	}
	value, err := core.ParseAmount(string(body))
	if err != nil || value.IsNegative() {
		slog.ErrorContext(req.Context(), "Failed to parse balance from the server response",
			"operation", op,
			"body", string(body))
		return decimal.Zero, &RemoteError{Op: op, Detail: fmt.Sprintf("unparseable balance %q", string(body)), Err: core.ErrRemoteUnavailable}
	}

	slog.DebugContext(req.Context(), "Balance request completed",
		"operation", op,
		"balance", value.String(),
		"duration_ms", time.Since(start).Milliseconds())
	return value, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
