package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// key=value and "key": "value" shapes for the credentials this service carries.
	apiKeyKVRe = regexp.MustCompile(`(?i)"?\b((?:gemini|google[_-]?search|perplexity|apollo)?[_-]?api[_-]?key|x-api-key)\b"?\s*[:=]\s*"?[^\s"'&,}]+"?`)

	// Query-string keys, e.g. customsearch/v1?key=...&cx=...
	queryKeyRe = regexp.MustCompile(`([?&](?:key|cx)=)[^&\s"']+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = queryKeyRe.ReplaceAllString(out, "${1}<redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}
