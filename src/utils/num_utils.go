package utils

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// looseCleaner strips the decoration brokerage statements put around numbers:
// thousands separators, currency symbols, surrounding whitespace and
// accounting-style parentheses for negatives.
func looseClean(s string) string {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if negative && !strings.HasPrefix(out, "-") {
		out = "-" + out
	}
	return out
}

// ParseLooseFloat parses a statement numeric field. Numeric garbage is never
// fatal during statement parsing, so unparseable text yields 0.
func ParseLooseFloat(s string) float64 {
	cleaned := looseClean(s)
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseLooseInt parses a statement quantity field, tolerating a trailing
// decimal part ("100.0"). Returns 0 on garbage.
func ParseLooseInt(s string) int {
	return int(ParseLooseFloat(s))
}

// ParseLooseDecimal parses a statement money field into a decimal.
// Returns decimal.Zero on garbage.
func ParseLooseDecimal(s string) decimal.Decimal {
	cleaned := looseClean(s)
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}
