// Package sanitize redacts credential-shaped substrings before they reach a
// log line, an error message, or a bus payload. It reuses the sync.Map
// compiled-regex-cache idiom used for pattern validation elsewhere in this
// codebase so repeated calls never pay recompilation cost.
package sanitize

import (
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

var (
	compiledRegexCache sync.Map

	patterns = []string{
		`SG\.[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}`, // SendGrid API key
		`(?i)bearer\s+\S+`,                           // Authorization: Bearer ...
		`[A-Za-z0-9_-]{32,}`,                         // any long opaque token
	}
)

func getCompiledRegex(pattern string) *regexp.Regexp {
	if compiled, ok := compiledRegexCache.Load(pattern); ok {
		return compiled.(*regexp.Regexp)
	}
	compiled := regexp.MustCompile(pattern)
	compiledRegexCache.Store(pattern, compiled)
	return compiled
}

// String returns a copy of s with every credential-shaped substring replaced
// by a fixed redaction marker. Patterns are applied in order, most specific
// first, so a SendGrid key is labelled a single redaction rather than split
// across the generic opaque-token pattern.
func String(s string) string {
	out := s
	for _, p := range patterns {
		out = getCompiledRegex(p).ReplaceAllString(out, redacted)
	}
	return out
}

// Error wraps err's message through String, preserving nil.
func Error(err error) error {
	if err == nil {
		return nil
	}
	return sanitizedError{msg: String(err.Error())}
}

type sanitizedError struct{ msg string }

func (e sanitizedError) Error() string { return e.msg }

// Map returns a shallow copy of m with every value run through String. Keys
// are never redacted since field names carry no credential material.
func Map(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = String(v)
	}
	return out
}
