package domain

import "strings"

// IsE164 reports whether s is "+" followed by 1-15 digits with a non-zero leading digit.
func IsE164(s string) bool {
	if len(s) < 2 || len(s) > 16 || s[0] != '+' {
		return false
	}
	if s[1] == '0' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// StripPhoneFormatting removes the separators customers type into phone fields.
func StripPhoneFormatting(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '/', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// MaskPhone keeps the last four digits and replaces every other digit with '*'.
// Numbers with four digits or fewer are masked entirely.
func MaskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}

	keep := 4
	if digits <= keep {
		keep = 0
	}

	var b strings.Builder
	b.Grow(len(phone))
	seen := 0
	for _, r := range phone {
		if r < '0' || r > '9' {
			b.WriteRune(r)
			continue
		}
		seen++
		if seen > digits-keep {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}
