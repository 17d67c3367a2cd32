// Package normalize converts German-formatted listing strings into numbers.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrMalformedValue is returned when a value has no usable digits.
var ErrMalformedValue = errors.New("malformed value")

var (
	// A postal code is a run of exactly five digits.
	postalCodeRe = regexp.MustCompile(`(?:^|[^0-9])([0-9]{5})(?:[^0-9]|$)`)

	// The amount is the first number token: grouped thousands or plain
	// digits, with optional cents after the comma.
	amountRe = regexp.MustCompile(`^[^0-9,]*([0-9]{1,3}(?:\.[0-9]{3})+|[0-9]+)(?:,[0-9]*)?`)
)

// Half-room markers after NFKC; "½" folds to "1⁄2" (U+2044).
var halfRoomMarkers = []string{"1/2", "1\u20442"}

// ParseCurrency parses a locale-formatted amount such as "1.002,68 €".
// The dot is a thousands separator and the comma starts the cents, which are
// dropped without rounding. Only the first amount counts, so in
// "550 € zzgl. 100 € NK" the result is 550.
func ParseCurrency(raw string) (int64, error) {
	s := norm.NFKC.String(raw)
	m := amountRe.FindStringSubmatchIndex(s)
	if m == nil {
		return 0, fmt.Errorf("currency %q: %w", raw, ErrMalformedValue)
	}
	rest := s[m[1]:]
	if startsWithDigit(rest) || (strings.HasPrefix(rest, ".") && startsWithDigit(rest[1:])) {
		// "1.2345" or "12345.678": not a valid grouping.
		return 0, fmt.Errorf("currency %q: %w", raw, ErrMalformedValue)
	}

	digits := strings.ReplaceAll(s[m[2]:m[3]], ".", "")
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("currency %q: %w", raw, ErrMalformedValue)
	}
	return n, nil
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// ParseRoomCount parses a room count. "2,5" and "2 1/2" both yield 2.
// The second result is false when the value is not a room count at all,
// including negative counts.
func ParseRoomCount(raw string) (int, bool) {
	n, ok := parseRoomCount(raw)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

func parseRoomCount(raw string) (int, bool) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}

	if before, _, ok := strings.Cut(s, ","); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(before)); err == nil {
			return n, true
		}
	}

	for _, marker := range halfRoomMarkers {
		if !strings.Contains(s, marker) {
			continue
		}
		lead := strings.TrimSpace(strings.SplitN(s, marker, 2)[0])
		fields := strings.Fields(lead)
		if len(fields) == 0 {
			continue
		}
		if n, err := strconv.Atoi(fields[0]); err == nil {
			return n, true
		}
	}

	return 0, false
}

// ExtractPostalCode returns the first 5-digit run found in blocks, searched
// in order.
func ExtractPostalCode(blocks ...string) (string, bool) {
	for _, block := range blocks {
		if m := postalCodeRe.FindStringSubmatch(norm.NFKC.String(block)); m != nil {
			return m[1], true
		}
	}
	return "", false
}
