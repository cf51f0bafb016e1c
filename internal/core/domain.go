package core

import (
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// MaxNicknameLength is the longest nickname a beneficiary may carry, in characters.
	MaxNicknameLength = 20
)

// TransactionCharge is debited from the balance on every successful top-up,
// separately from the top-up amount itself.
var TransactionCharge = decimal.NewFromInt(1)

var denominations = []int64{5, 10, 20, 30, 50, 75, 100}

type (
	Transaction struct {
		ID            string
		BeneficiaryID int64
		Amount        decimal.Decimal
		Timestamp     time.Time
	}

	Beneficiary struct {
		ID            int64
		Nickname      string
		Verified      bool
		Transactions  []Transaction // insertion order
		TotalToppedUp decimal.Decimal
	}
)

// Denominations returns the permissible top-up amounts in ascending order.
// The returned slice is a fresh copy.
func Denominations() []decimal.Decimal {
	out := make([]decimal.Decimal, len(denominations))
	for i, d := range denominations {
		out[i] = decimal.NewFromInt(d)
	}
	return out
}

// IsDenomination reports whether amount is one of the permissible top-up amounts.
func IsDenomination(amount decimal.Decimal) bool {
	for _, d := range denominations {
		if amount.Equal(decimal.NewFromInt(d)) {
			return true
		}
	}
	return false
}

// ValidateNickname checks the 1..20 character bound.
func ValidateNickname(nickname string) error {
	n := utf8.RuneCountInString(nickname)
	if n == 0 || n > MaxNicknameLength {
		return ErrInvalidNickname
	}
	return nil
}

func (b Beneficiary) Validate() error {
	return ValidateNickname(b.Nickname)
}

// Clone returns a deep copy so callers can't mutate the transaction history.
func (b Beneficiary) Clone() Beneficiary {
	c := b
	c.Transactions = append([]Transaction(nil), b.Transactions...)
	return c
}

// MonthTotal sums the amounts of transactions with start <= timestamp < end.
func (b Beneficiary) MonthTotal(start, end time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, t := range b.Transactions {
		if t.Timestamp.Before(start) || !t.Timestamp.Before(end) {
			continue
		}
		total = total.Add(t.Amount)
	}
	return total
}
