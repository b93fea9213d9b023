package gallery

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestResolveSlug(t *testing.T) {
	testCases := []struct {
		name     string
		title    string
		expected string
	}{
		{name: "simple", title: "Quiet Forms", expected: "quiet-forms"},
		{name: "trimmed and folded", title: "  QUIET forms  ", expected: "quiet-forms"},
		{name: "separator runs", title: "quiet -- _ forms", expected: "quiet-forms"},
		{name: "punctuation dropped", title: "O'Keeffe & Friends!", expected: "okeeffe-friends"},
		{name: "edge separators", title: "--Quiet Forms--", expected: "quiet-forms"},
		{name: "dots and slashes", title: "vol.2/part 1", expected: "vol-2-part-1"},
		{name: "unicode letters", title: "Łódź Früh", expected: "łódź-früh"},
		{name: "digits", title: "2024 Retrospective", expected: "2024-retrospective"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			slug, err := ResolveSlug(KindSolo, testCase.title)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if slug != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, slug)
			}
		})
	}
}

func TestResolveSlugIgnoresKind(t *testing.T) {
	solo, err := ResolveSlug(KindSolo, "Quiet Forms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	group, err := ResolveSlug(KindGroup, "Quiet Forms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if solo != group {
		t.Fatalf("expected kind-independent slugs, got %q and %q", solo, group)
	}
}

func TestResolveSlugRejectsEmptyResult(t *testing.T) {
	for _, title := range []string{"", "   ", "!!!", "-_./"} {
		if _, err := ResolveSlug(KindSolo, title); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", title, err)
		}
	}
}

func TestResolveSlugRejectsUnknownKind(t *testing.T) {
	if _, err := ResolveSlug(Kind("duo"), "Quiet Forms"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveSlugTruncatesOnRuneBoundary(t *testing.T) {
	slug, err := ResolveSlug(KindSolo, strings.Repeat("ß", maxIdentifierLength+20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !utf8.ValidString(slug) {
		t.Fatalf("expected valid utf-8 slug")
	}
	if utf8.RuneCountInString(slug) != maxIdentifierLength {
		t.Fatalf("expected %d runes, got %d", maxIdentifierLength, utf8.RuneCountInString(slug))
	}
}
