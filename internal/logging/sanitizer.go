package logging

import (
	"regexp"
)

// Sanitizer redacts sensitive information from log messages.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// PEM private keys, including the escaped form inside service account JSON
		`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		`"private_key"\s*:\s*"[^"]*"`,
		// Google API keys
		`AIza[0-9A-Za-z_-]{35}`,
		// Google OAuth access and refresh tokens
		`ya29\.[0-9A-Za-z_-]{20,}`,
		`1//[0-9A-Za-z_-]{20,}`,
		// OAuth client secrets
		`GOCSPX-[0-9A-Za-z_-]{20,}`,
		// Chat bot tokens (digits:secret)
		`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`,
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)client[_-]?secret["'\s:=]+[a-zA-Z0-9_-]{16,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		`(?i)token["'\s:=]+[a-zA-Z0-9._-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
