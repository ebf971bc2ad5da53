package ticker

import (
	"errors"
	"testing"
)

func TestNormalize_Valid(t *testing.T) {
	tests := map[string]string{
		"aapl":   "AAPL",
		" msft ": "MSFT",
		"F":      "F",
		"brk.b":  "BRK.B",
		"GOOGL":  "GOOGL",
		"t":      "T",
	}
	for in, want := range tests {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"TOOLONG",
		"1ABC",
		"AB-C",
		".A",
		"AB CD",
	}
	for _, in := range tests {
		_, err := Normalize(in)
		if err == nil {
			t.Errorf("expected error for %q", in)
			continue
		}
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", in, err)
		}
	}
}
