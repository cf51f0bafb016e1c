// Package core provides the top-up domain types, the error taxonomy and
// money parsing helpers.
//
// This file contains the conversions between wire text and decimal amounts.
// The remote balance service speaks plain decimal text: no currency symbol,
// no JSON envelope.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts plain decimal text to a decimal value.
//
// Surrounding whitespace is ignored. Exponents, currency symbols, thousands
// separators and empty input are rejected with ErrInvalidAmount. Negative
// values parse; it is up to the caller to decide whether they make sense
// (a remote balance may never be negative, a top-up amount must be positive).
//
// Examples:
//
//	ParseAmount("899")     -> 899, nil
//	ParseAmount(" 12.50 ") -> 12.5, nil
//	ParseAmount("AED 5")   -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParsePositiveAmount is ParseAmount restricted to values greater than zero.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders d as wire text, e.g. "20" or "12.5".
func FormatAmount(d decimal.Decimal) string {
	return d.String()
}
