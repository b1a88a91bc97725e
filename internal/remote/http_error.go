package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

// apiErrorEnvelope covers the error shapes used by the upstream APIs:
// Google ({"error":{"code","message","status"}}), Perplexity ({"error":{"message","type"}})
// and Apollo ({"error":"..."}).
type apiErrorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Type    string `json:"type"`
}

// HTTPError is a sanitized summary of a non-2xx API response.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Reason     string
	Message    string

	// Snippet is a redacted, truncated hint for responses without a known envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	parts := []string{
		fmt.Sprintf("api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Reason) != "" {
		parts = append(parts, "reason="+strings.TrimSpace(e.Reason))
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, fmt.Sprintf("message=%q", strings.TrimSpace(e.Message)))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// Retryable reports whether the status is worth retrying (429 or 5xx).
func (e *HTTPError) Retryable() bool {
	return e != nil && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode/100 == 5)
}

// NewHTTPError builds an HTTPError from a response and its body.
func NewHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env apiErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && len(env.Error) > 0 {
		var detail apiErrorBody
		var text string
		switch {
		case json.Unmarshal(env.Error, &detail) == nil && (detail.Message != "" || detail.Status != "" || detail.Type != ""):
			h.Message = redact.Secrets(truncate(detail.Message, 256))
			h.Reason = strings.TrimSpace(detail.Status)
			if h.Reason == "" {
				h.Reason = strings.TrimSpace(detail.Type)
			}
			return h
		case json.Unmarshal(env.Error, &text) == nil && strings.TrimSpace(text) != "":
			h.Message = redact.Secrets(truncate(text, 256))
			return h
		}
	}

	h.Snippet = redactAndTruncate(body)
	return h
}

// Classify wraps retryable HTTP failures as core.TransientError so worker pools
// and retry loops back off on them.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var he *HTTPError
	if errors.As(err, &he) && he.Retryable() {
		return &core.TransientError{Err: err}
	}
	return err
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain sensitive data.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
