package gallery

import (
	"fmt"
	"strings"
	"unicode"
)

// ResolveSlug derives the stable identifier for an entry title. Slugs are unique
// across every kind, so kind is validated but does not contribute to the result.
func ResolveSlug(kind Kind, title string) (string, error) {
	if kind != KindSolo && kind != KindGroup {
		return "", fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	slug := normalizeSlug(title)
	if slug == "" {
		return "", fmt.Errorf("%w: title %q does not produce a slug", ErrValidation, title)
	}
	if runes := []rune(slug); len(runes) > maxIdentifierLength {
		slug = strings.TrimRight(string(runes[:maxIdentifierLength]), "-")
	}
	return slug, nil
}

func normalizeSlug(title string) string {
	var builder strings.Builder
	pendingSeparator := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSeparator && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			pendingSeparator = false
			builder.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' || r == '/':
			pendingSeparator = true
		}
	}
	return builder.String()
}
