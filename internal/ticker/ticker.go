// Package ticker normalizes and validates equity ticker symbols.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLen is the longest symbol accepted.
const MaxLen = 5

// symbolRegex matches 1-5 characters: a leading letter followed by letters,
// digits or a class separator (e.g. BRK.B).
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,4}$`)

var ErrInvalidTicker = errors.New("ticker: invalid symbol")

// Normalize trims and uppercases raw input and validates the result.
func Normalize(raw string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q (expected 1-%d characters, e.g. AAPL)",
			ErrInvalidTicker, raw, MaxLen)
	}
	return sym, nil
}
