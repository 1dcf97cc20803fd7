package util

import (
	"errors"
	"strings"
)

// SanitizeFileName rejects traversal patterns and flattens path
// separators so a caller-supplied name stays inside its directory.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// Slugify lowercases a title and collapses runs of non-alphanumerics into
// single hyphens, for download file names derived from run titles.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, ch := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "document"
	}
	return out
}
