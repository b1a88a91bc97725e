package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// IntakeFile loads intake payloads from a JSON file. The file holds either one
// object or an array of objects; each object becomes one pipeline session.
type IntakeFile struct {
	Path string
}

func (f IntakeFile) Load(_ context.Context) ([]json.RawMessage, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return ParseIntake(b)
}

// ParseIntake splits raw JSON into individual intake objects.
func ParseIntake(b []byte) ([]json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("intake: empty input")
	}
	switch b[0] {
	case '{':
		if !json.Valid(b) {
			return nil, fmt.Errorf("intake: invalid JSON object")
		}
		return []json.RawMessage{json.RawMessage(b)}, nil
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(b, &arr); err != nil {
			return nil, fmt.Errorf("intake: parse array: %w", err)
		}
		for i, item := range arr {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				return nil, fmt.Errorf("intake: element %d is not an object", i)
			}
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("intake: expected JSON object or array")
	}
}
