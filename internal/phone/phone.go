// Package phone canonicalizes human-entered phone numbers.
package phone

import (
	"errors"
	"strings"
)

// ErrInvalid is returned when the input cannot be reduced to a valid number.
var ErrInvalid = errors.New("phone: invalid number")

const (
	minDigits = 10
	maxDigits = 15
)

// Normalize reduces raw input to the canonical "+digits" form. National
// trunk prefixes are rewritten: an 11-digit number starting with "80"
// becomes a 375 number, an 11-digit number starting with "8" becomes a 7
// number. Normalize is pure and idempotent: feeding its output back in
// returns the same value.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "80"):
		digits = "375" + digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "8"):
		digits = "7" + digits[1:]
	}

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", ErrInvalid
	}
	return "+" + digits, nil
}

// Redact masks the middle of a canonical number for log output.
func Redact(canonical string) string {
	if len(canonical) < 8 {
		return "***"
	}
	return canonical[:5] + "****" + canonical[len(canonical)-2:]
}
