// Package phone normalizes and formats dialable numbers. All functions are
// pure; NormalizeE164 must be applied to every destination before dialing.
package phone

import (
	"fmt"
	"strings"
)

// defaultCountryCode is prepended to bare 10-digit domestic numbers.
const defaultCountryCode = "1"

// Raw strips display formatting, keeping only digits and a leading +.
func Raw(input string) string {
	var b strings.Builder
	for i, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeE164 converts caller input to an international dialing format:
//
//	"5551234567"      -> "+15551234567"   (10-digit domestic)
//	"15551234567"     -> "+15551234567"   (11 digits with trunk digit)
//	"+44 20 7946 0018" -> "+442079460018" (already marked, cleaned)
//
// Any other length passes through with a + prefix if one is missing.
func NormalizeE164(input string) string {
	raw := clean(input)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		return raw
	}
	if len(raw) == 10 {
		return "+" + defaultCountryCode + raw
	}
	if len(raw) == 11 && strings.HasPrefix(raw, defaultCountryCode) {
		return "+" + raw
	}
	return "+" + raw
}

// clean removes everything except digits and + signs, then drops any + that is
// not in the leading position.
func clean(input string) string {
	var b strings.Builder
	for _, r := range input {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return ""
	}
	head := ""
	if s[0] == '+' {
		head = "+"
	}
	return head + strings.ReplaceAll(s, "+", "")
}

// FormatDisplay renders a number for the dialer screen. Numbers with an
// international marker get space grouping; everything else gets the domestic
// (XXX) XXX-XXXX treatment. Partial input formats as far as it goes.
func FormatDisplay(input string) string {
	raw := clean(input)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		return formatInternational(raw)
	}
	return formatDomestic(raw)
}

func formatInternational(raw string) string {
	digits := raw[1:]
	switch {
	case len(digits) == 0:
		return "+"
	case len(digits) <= 3:
		return "+" + digits
	case len(digits) <= 6:
		return fmt.Sprintf("+%s %s", digits[:3], digits[3:])
	case len(digits) <= 10:
		return fmt.Sprintf("+%s %s %s", digits[:3], digits[3:6], digits[6:])
	default:
		return fmt.Sprintf("+%s %s %s %s", digits[:3], digits[3:6], digits[6:10], digits[10:])
	}
}

func formatDomestic(digits string) string {
	switch {
	case len(digits) <= 3:
		return digits
	case len(digits) <= 6:
		return fmt.Sprintf("(%s) %s", digits[:3], digits[3:])
	case len(digits) <= 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
	default:
		// Longer than 10 digits: assume a leading country code.
		return fmt.Sprintf("+%s (%s) %s-%s", digits[:1], digits[1:4], digits[4:7], digits[7:min(11, len(digits))])
	}
}
