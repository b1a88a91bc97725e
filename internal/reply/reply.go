// Package reply extracts a JSON object from free-text model output.
//
// Decode never fails: a reply that is not usable JSON comes back as a degraded
// result carrying the raw text, so callers can forward it and let the next
// stage (or a human) cope.
package reply

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status tags the outcome of Decode.
type Status int

const (
	StatusDegraded Status = iota
	StatusOK
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "degraded"
}

// Result is the tagged outcome of decoding a model reply.
type Result struct {
	Status Status
	// Text is the trimmed JSON text when OK, otherwise the raw reply unchanged.
	Text string
	// Payload holds the decoded top-level object. It is set whenever an object
	// was found, even if required keys are missing.
	Payload map[string]json.RawMessage
	// Missing lists required keys absent from the payload.
	Missing []string
	// Err explains a degraded result. It is never returned by Decode.
	Err error
}

// OK reports whether the reply held an object with all required keys.
func (r Result) OK() bool { return r.Status == StatusOK }

// Has reports whether key is present in the payload.
func (r Result) Has(key string) bool {
	_, ok := r.Payload[key]
	return ok
}

// Bool returns payload[key] as a boolean. Missing or non-boolean values are false.
func (r Result) Bool(key string) bool {
	raw, ok := r.Payload[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// String returns payload[key] as a string, or "" when absent or not a string.
func (r Result) String(key string) string {
	raw, ok := r.Payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Into decodes the JSON text into v. With strict set, unknown fields are rejected.
func (r Result) Into(v any, strict bool) error {
	if r.Payload == nil {
		return fmt.Errorf("reply: no JSON object to decode")
	}
	dec := json.NewDecoder(strings.NewReader(r.jsonText()))
	if strict {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(v)
}

func (r Result) jsonText() string {
	if r.Status == StatusOK {
		return r.Text
	}
	s := strings.TrimSpace(r.Text)
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	return s
}

// Decode locates the first '{' in raw, decodes a JSON object from there and checks
// that every required key is present. Text after the object is discarded: an OK
// result's Text holds only the object, never the trailing prose.
func Decode(raw string, required ...string) Result {
	degraded := Result{Status: StatusDegraded, Text: raw}

	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "{") {
		i := strings.IndexByte(s, '{')
		if i < 0 {
			degraded.Err = fmt.Errorf("reply: no JSON object found")
			return degraded
		}
		s = s[i:]
	}

	dec := json.NewDecoder(strings.NewReader(s))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		degraded.Err = fmt.Errorf("reply: parse JSON: %w", err)
		return degraded
	}
	if obj == nil {
		degraded.Err = fmt.Errorf("reply: JSON value is not an object")
		return degraded
	}
	degraded.Payload = obj

	var missing []string
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		degraded.Missing = missing
		degraded.Err = fmt.Errorf("reply: missing required keys %s", strings.Join(missing, ", "))
		return degraded
	}

	// Forward the text as the model wrote it, minus any trailing prose after the object.
	text := strings.TrimSpace(s[:dec.InputOffset()])
	return Result{Status: StatusOK, Text: text, Payload: obj}
}
