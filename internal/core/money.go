package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a decimal string to positive minor units.
//
// Both dot (12.34) and comma (12,34) separators are accepted and the value
// is rounded half-up to two decimals:
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("12,345") -> 1235
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" || strings.HasPrefix(s, "+") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := d.Round(2).Mul(hundred)
	if !minor.IsInteger() || minor.Cmp(decimal.NewFromInt(1<<62)) > 0 {
		return 0, ErrInvalidAmount
	}
	v := minor.IntPart()
	if v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatAmount renders minor units with two decimals, e.g. -1234 -> "-12.34".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
