package util

import "testing"

func TestHashText(t *testing.T) {
	text := "requirements prompt body"
	got := HashText(text)
	if got != HashText(text) {
		t.Fatalf("expected stable hash, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
	if HashText("other text") == got {
		t.Fatalf("expected different inputs to hash differently")
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Online Bookstore", "online-bookstore"},
		{"  Fleet Tracking v2  ", "fleet-tracking-v2"},
		{"***", "document"},
		{"", "document"},
		{"A/B Testing (SRS)", "a-b-testing-srs"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	if _, err := SanitizeFileName("../../etc/passwd"); err == nil {
		t.Fatalf("expected traversal pattern to be rejected")
	}
	got, err := SanitizeFileName("my doc/v1.md")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if got != "my doc_v1.md" {
		t.Fatalf("expected separators replaced, got %q", got)
	}
}
