package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"899", "899", true},
		{"1.50", "1.5", true},
		{" 2.50 ", "2.5", true},
		{"1000\n", "1000", true},
		{"-1", "-1", true},
		{"0", "0", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"AED 5", "", false},
		{"1e3", "", false},
		{"1,000", "", false},
		{"", "", false},
		{"   ", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestParsePositiveAmount(t *testing.T) {
	for _, in := range []string{"0", "-5", "0.00"} {
		if _, err := ParsePositiveAmount(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", in, err)
		}
	}
	got, err := ParsePositiveAmount("75")
	if err != nil || !got.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected 75, got %s (err=%v)", got, err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.NewFromInt(20)); got != "20" {
		t.Fatalf("expected 20, got %q", got)
	}
	if got := FormatAmount(decimal.RequireFromString("12.50")); got != "12.5" {
		t.Fatalf("expected 12.5, got %q", got)
	}
}
