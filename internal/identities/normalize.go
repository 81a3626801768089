package identities

import (
	"strings"
	"unicode"

	"github.com/memohai/unibox/internal/store"
)

// Normalize derives the lookup key for a raw identifier: emails are trimmed
// and lower-cased, phone numbers keep digits and a leading plus, anything
// else is trimmed.
func Normalize(t store.IdentityType, raw string) (string, error) {
	if !t.Valid() {
		return "", ErrInvalidType
	}
	value := strings.TrimSpace(raw)
	switch t {
	case store.IdentityEmail:
		value = strings.ToLower(value)
	case store.IdentityPhone:
		value = normalizePhone(value)
	}
	if value == "" {
		return "", ErrInvalidValue
	}
	return value, nil
}

func normalizePhone(value string) string {
	var b strings.Builder
	for i, r := range value {
		switch {
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.Trim(out, "+") == "" {
		return ""
	}
	return out
}
