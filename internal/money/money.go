// Package money handles currency amounts as major-unit decimal strings
// with two decimal places (e.g. "8500.00"). Arithmetic happens on big.Int
// minor units so amounts never touch floating point.
package money

import (
	"math/big"
	"strings"
)

// Decimals is the number of decimal places carried by every amount.
const Decimals = 2

var minorPerMajor = big.NewInt(100)

// Parse converts a decimal string like "1500.50" into minor units (kopeks/kobo).
// Returns false for malformed input.
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, false
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, false
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, false
	}
	if neg {
		result.Neg(result)
	}
	return result, true
}

// Format converts minor units back into a decimal string like "1500.50".
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	point := len(s) - Decimals
	out := s[:point] + "." + s[point:]
	if neg {
		out = "-" + out
	}
	return out
}

// FromMinor converts an integer minor-unit amount (e.g. kobo from a
// provider payload) into a decimal string.
func FromMinor(minor int64) string {
	return Format(big.NewInt(minor))
}

// ToMinor converts a decimal string into int64 minor units for provider
// APIs that take integer amounts. Returns false on malformed input or
// values that do not fit in an int64.
func ToMinor(s string) (int64, bool) {
	v, ok := Parse(s)
	if !ok {
		return 0, false
	}
	if !v.IsInt64() {
		return 0, false
	}
	return v.Int64(), true
}

// IsPositive reports whether s parses to an amount greater than zero.
func IsPositive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}

// Fee splits amount into a platform fee and a net remainder, with the fee
// computed at percent and floored to a whole minor unit so fee + net always
// equals the original amount exactly.
func Fee(amount string, percent int) (fee, net string, ok bool) {
	v, ok := Parse(amount)
	if !ok || percent < 0 || percent > 100 {
		return "", "", false
	}

	feeMinor := new(big.Int).Mul(v, big.NewInt(int64(percent)))
	feeMinor.Quo(feeMinor, big.NewInt(100))
	netMinor := new(big.Int).Sub(v, feeMinor)

	return Format(feeMinor), Format(netMinor), true
}
