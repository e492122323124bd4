package validation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen.
// Returns the trimmed string or an error suitable for 400 INVALID_LOCATION responses.
// Normalization (e.g. lowercase) is left to the service layer.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// isAllowedLocationRune returns true for letters (Unicode), digits, space, comma, hyphen.
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-':
		return true
	}
	return false
}

// ErrHorizonNotInteger is returned when the horizon query value does not parse as an integer.
var ErrHorizonNotInteger = errors.New("horizon must be an integer")

// ErrHorizonNotPositive is returned when the horizon query value is zero or negative.
var ErrHorizonNotPositive = errors.New("horizon must be a positive integer")

// ErrLimitInvalid is returned when the limit query value is not a positive integer within bounds.
var ErrLimitInvalid = errors.New("limit must be a positive integer")

// ParseHorizon parses the optional horizon query value. Empty input returns 0,
// which callers treat as "use the configured default". An explicit zero or
// negative value is rejected; the upper cap belongs to the predictor, not here.
func ParseHorizon(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrHorizonNotInteger
	}
	if n <= 0 {
		return 0, ErrHorizonNotPositive
	}
	return n, nil
}

// ParseLimit parses the optional limit query value. Empty input returns 0 so
// the caller can apply its default. Values must be positive and at most max.
func ParseLimit(raw string, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, ErrLimitInvalid
	}
	if max > 0 && n > max {
		return max, nil
	}
	return n, nil
}
