package s3

import (
	"strings"
	"testing"
)

func TestApplyPrefix(t *testing.T) {
	cases := []struct {
		prefix string
		key    string
		want   string
	}{
		{"", "srs/run-1.txt", "srs/run-1.txt"},
		{"techdoc", "srs/run-1.txt", "techdoc/srs/run-1.txt"},
		{"/techdoc/", "/srs/run-1.txt", "techdoc/srs/run-1.txt"},
		{"techdoc", "", "techdoc"},
	}
	for _, tc := range cases {
		if got := applyPrefix(tc.prefix, tc.key); got != tc.want {
			t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tc.prefix, tc.key, got, tc.want)
		}
	}
}

func TestNormalizePrefix(t *testing.T) {
	if got := normalizePrefix("  /docs/ "); got != "docs" {
		t.Fatalf("expected trimmed prefix, got %q", got)
	}
}

func TestCountingReader(t *testing.T) {
	body := "compiled markdown body"
	counter := &countingReader{r: strings.NewReader(body)}

	buf := make([]byte, 8)
	total := 0
	for {
		n, err := counter.Read(buf)
		total += n
		if err != nil {
			break
		}
	}
	if counter.n != int64(len(body)) || total != len(body) {
		t.Fatalf("expected %d bytes counted, got %d", len(body), counter.n)
	}
}
