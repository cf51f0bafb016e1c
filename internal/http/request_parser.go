package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"topup/internal/core"
)

const maxBodyBytes = 4 << 10

type registerRequest struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Verified bool   `json:"verified"`
}

// topUpRequest accepts the amount as a JSON string or number. Either way the
// literal text is parsed as a decimal.
type topUpRequest struct {
	Nickname string          `json:"nickname"`
	Amount   json.RawMessage `json:"amount"`
}

func (r topUpRequest) amount() (decimal.Decimal, error) {
	raw := strings.TrimSpace(string(r.Amount))
	if raw == "" || raw == "null" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", core.ErrInvalidAmount)
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(r.Amount, &s); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", core.ErrInvalidAmount, err)
		}
		raw = s
	}
	return core.ParsePositiveAmount(raw)
}

// decodeJSON reads a single JSON object from the request body, rejecting
// unknown fields and bodies over maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode request body: unexpected data after JSON object")
	}
	return nil
}
