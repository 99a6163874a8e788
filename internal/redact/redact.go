// ABOUTME: Redaction gate that strips personally identifying data from user text
// ABOUTME: Replaces detected spans with stable typed tokens before persistence or provider calls

package redact

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRedactionFailed is returned when a detector fails internally. The gate
// fails closed: callers must refuse to forward the raw text.
var ErrRedactionFailed = errors.New("redaction failed")

// tokenRe matches tokens this package has already emitted. Spans inside an
// existing token are never re-scanned, which makes Redact idempotent.
var tokenRe = regexp.MustCompile(`\[REDACTED:[A-Z_]+_\d+(?::[^\[\]]*)?\]`)

// Pre-compiled PII detectors, most specific first. Order matters: earlier
// classes claim their spans before looser patterns get a chance.
var detectors = []struct {
	class    string
	re       *regexp.Regexp
	validate func(digits string) bool
	hinted   bool
}{
	// Payment cards, 13-19 digits with optional separators, Luhn-checked
	{"CARD", regexp.MustCompile(`\b(?:\d[-\s]?){12,18}\d\b`), validCard, true},

	// IBAN
	{"IBAN", regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`), nil, true},

	// Email addresses
	{"EMAIL", regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), nil, false},

	// SSN: 123-45-6789 or 123 45 6789
	{"SSN", regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), validSSN, false},

	// Canadian SIN: 123-456-789
	{"SIN", regexp.MustCompile(`\b\d{3}[-\s]\d{3}[-\s]\d{3}\b`), nil, false},

	// ABA routing numbers: 9 digits, restricted leading pair
	{"ROUTING", regexp.MustCompile(`\b\d{9}\b`), validRouting, true},

	// Bank account numbers: bare digit runs left over after the classes above
	{"BANK_ACCOUNT", regexp.MustCompile(`\b\d{8,17}\b`), nil, true},

	// Phone numbers, US and international
	{"PHONE", regexp.MustCompile(`(?:\+\d{1,3}[-\s.]?)?\(?\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`), validPhone, true},

	// IPv4 addresses
	{"IP", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), nil, false},

	// Canadian postal codes: A1A 1A1
	{"POSTAL_CODE", regexp.MustCompile(`\b[A-Za-z]\d[A-Za-z][ -]?\d[A-Za-z]\d\b`), nil, false},

	// US ZIP codes
	{"ZIP", regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`), nil, false},
}

// Redact scans raw user text for PII and replaces each detected span with a
// typed token. Identical literals within one call map to the same token. The
// returned map resolves token to original literal; it must never be sent to
// the model provider or written to plaintext logs.
//
// Text that already contains tokens from a prior Redact call passes through
// unchanged for those spans.
func Redact(raw string) (redacted string, tokens map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			redacted = ""
			tokens = nil
			err = fmt.Errorf("%w: %v", ErrRedactionFailed, r)
		}
	}()

	redacted = raw
	tokens = make(map[string]string)
	counters := make(map[string]int)
	byLiteral := make(map[string]string)

	for _, d := range detectors {
		redacted = applyDetector(redacted, d.class, d.re, d.validate, d.hinted, tokens, counters, byLiteral)
	}

	return redacted, tokens, nil
}

type detectorFunc func(digits string) bool

func applyDetector(text, class string, re *regexp.Regexp, validate detectorFunc, hinted bool, tokens map[string]string, counters map[string]int, byLiteral map[string]string) string {
	protected := tokenRe.FindAllStringIndex(text, -1)

	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		if m[0] < last || overlapsAny(m, protected) {
			continue
		}
		literal := text[m[0]:m[1]]
		if validate != nil && !validate(digitsOf(literal)) {
			continue
		}

		token, seen := byLiteral[class+"\x00"+literal]
		if !seen {
			counters[class]++
			token = formatToken(class, counters[class], literal, hinted)
			byLiteral[class+"\x00"+literal] = token
			tokens[token] = literal
		}

		b.WriteString(text[last:m[0]])
		b.WriteString(token)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// formatToken builds "[REDACTED:CLASS_n]" or, for hinted classes,
// "[REDACTED:CLASS_n:last4]". The hint is the last four digits of the
// literal, which is not reversible on its own.
func formatToken(class string, n int, literal string, hinted bool) string {
	if hinted {
		if d := digitsOf(literal); len(d) >= 4 {
			return fmt.Sprintf("[REDACTED:%s_%d:%s]", class, n, d[len(d)-4:])
		}
	}
	return fmt.Sprintf("[REDACTED:%s_%d]", class, n)
}

func overlapsAny(m []int, ranges [][]int) bool {
	for _, r := range ranges {
		if m[0] < r[1] && m[1] > r[0] {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validCard checks length and the Luhn checksum.
func validCard(digits string) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// validSSN rejects impossible area/group/serial components.
func validSSN(digits string) bool {
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[0:3], digits[3:5], digits[5:9]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// validRouting checks the ABA leading-pair ranges (00-12, 21-32, 61-72, 80).
func validRouting(digits string) bool {
	if len(digits) != 9 {
		return false
	}
	prefix := (int(digits[0]-'0') * 10) + int(digits[1]-'0')
	switch {
	case prefix <= 12:
		return true
	case prefix >= 21 && prefix <= 32:
		return true
	case prefix >= 61 && prefix <= 72:
		return true
	case prefix == 80:
		return true
	}
	return false
}

// validPhone requires at least ten digits so short numeric runs survive.
func validPhone(digits string) bool {
	return len(digits) >= 10 && len(digits) <= 15
}
