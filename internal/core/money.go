// Package core holds the domain types shared by the stores, services and
// HTTP handlers.
//
// This file contains helpers for amount input. Amounts are whole units of
// currency; inputs are cleaned the way the amount fields are: every
// non-digit character is dropped before parsing.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// StripNonDigits removes every character that is not an ASCII digit.
func StripNonDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 128 && unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// ParseAmount converts user input to a non-negative amount.
//
// Examples:
//
//	ParseAmount("1.500.000") -> 1500000, nil
//	ParseAmount("12 000 VND") -> 12000, nil
//	ParseAmount("abc") -> 0, ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	digits := StripNonDigits(s)
	if digits == "" {
		return 0, ErrInvalidAmount
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// ParsePositiveAmount is ParseAmount that also rejects zero.
func ParsePositiveAmount(s string) (int64, error) {
	v, err := ParseAmount(s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatVND renders an amount with dot thousands separators, e.g.
// 1500000 -> "1.500.000 VND".
func FormatVND(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := strconv.FormatInt(amount, 10)
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	out := b.String() + " VND"
	if neg {
		return "-" + out
	}
	return out
}
