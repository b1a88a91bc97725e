package leads

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Relevance rubric shared by every scoring prompt and by FilterScores.
const (
	ScoreRemove    = 0
	ScoreWeak      = 25
	ScoreFair      = 50
	ScoreGood      = 75
	ScoreExcellent = 90
	ScorePerfect   = 100
)

// Unscored marks a record that has not been through a scoring-capable stage.
const Unscored Score = -1

// Score is a 0..100 relevance score. Decoding accepts integers, floats and numeric
// strings and clamps the result; anything else decodes as Unscored.
type Score int

func (s *Score) UnmarshalJSON(b []byte) error {
	*s = Unscored
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	*s = clampScore(int(math.Round(f)))
	return nil
}

func (s Score) MarshalJSON() ([]byte, error) {
	if s == Unscored {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(s))), nil
}

// Scored reports whether the score was set.
func (s Score) Scored() bool { return s != Unscored }

// Band names the rubric band the score falls in.
func (s Score) Band() string {
	switch {
	case s == Unscored:
		return "unscored"
	case s >= ScorePerfect:
		return "perfect"
	case s >= ScoreExcellent:
		return "excellent"
	case s >= ScoreGood:
		return "good"
	case s >= ScoreFair:
		return "fair"
	case s >= ScoreWeak:
		return "weak"
	default:
		return "remove"
	}
}

func (s Score) String() string {
	if s == Unscored {
		return ""
	}
	return strconv.Itoa(int(s))
}

func clampScore(v int) Score {
	if v < ScoreRemove {
		return ScoreRemove
	}
	if v > ScorePerfect {
		return ScorePerfect
	}
	return Score(v)
}

// Multi is a contact field that holds one value, or several when the source was
// ambiguous. It decodes from a string, a number or a list and encodes back to a
// plain string when it has a single value.
type Multi []string

func (m *Multi) UnmarshalJSON(b []byte) error {
	*m = nil
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	add := func(x any) error {
		switch t := x.(type) {
		case nil:
		case string:
			*m = m.With(t)
		case float64:
			*m = m.With(strconv.FormatFloat(t, 'f', -1, 64))
		default:
			return fmt.Errorf("contact value must be a string or number, got %T", x)
		}
		return nil
	}
	if list, ok := v.([]any); ok {
		for _, x := range list {
			if err := add(x); err != nil {
				*m = nil
				return err
			}
		}
		return nil
	}
	if err := add(v); err != nil {
		*m = nil
		return err
	}
	return nil
}

func (m Multi) MarshalJSON() ([]byte, error) {
	switch len(m) {
	case 0:
		return []byte(`""`), nil
	case 1:
		return json.Marshal(m[0])
	default:
		return json.Marshal([]string(m))
	}
}

// With returns m plus v when v is non-empty and not already present.
func (m Multi) With(v string) Multi {
	v = strings.TrimSpace(v)
	if v == "" || isPlaceholder(v) {
		return m
	}
	for _, have := range m {
		if strings.EqualFold(have, v) {
			return m
		}
	}
	return append(m, v)
}

// Union merges other into m, keeping m's order first.
func (m Multi) Union(other Multi) Multi {
	out := append(Multi(nil), m...)
	for _, v := range other {
		out = out.With(v)
	}
	return out
}

func (m Multi) Empty() bool { return len(m) == 0 }

func (m Multi) String() string { return strings.Join(m, "; ") }

// isPlaceholder catches the filler values models emit for unknown contact data.
func isPlaceholder(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "n/a", "na", "none", "null", "unknown", "not available", "-":
		return true
	}
	return false
}

// AppendNotes adds note to notes without ever discarding what was there.
func AppendNotes(notes, note string) string {
	notes = strings.TrimSpace(notes)
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return notes
	case notes == "":
		return note
	case strings.Contains(notes, note):
		return notes
	default:
		return notes + "; " + note
	}
}

// Text is free text a model may also send as a list of strings (notes, relevant
// info, approach). Lists are joined with AppendNotes.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*t = ""
	case string:
		*t = Text(x)
	case float64:
		*t = Text(strconv.FormatFloat(x, 'f', -1, 64))
	case []any:
		var joined string
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("text list item must be a string, got %T", item)
			}
			joined = AppendNotes(joined, s)
		}
		*t = Text(joined)
	default:
		return fmt.Errorf("want text or list of text, got %T", v)
	}
	return nil
}

// rawFields is the decode scratch space for records that keep unknown keys.
type rawFields map[string]json.RawMessage

// take decodes key into dst and removes it. A value that does not fit dst is left
// in place so it survives as an extra field.
func (r rawFields) take(key string, dst any) {
	v, ok := r[key]
	if !ok {
		return
	}
	if string(v) == "null" {
		delete(r, key)
		return
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return
	}
	delete(r, key)
}

func (r rawFields) extra() map[string]json.RawMessage {
	if len(r) == 0 {
		return nil
	}
	return map[string]json.RawMessage(r)
}

// encodeWithExtra marshals known (a struct's field map) merged over extra. An empty
// known value never hides an extra value kept under the same key.
func encodeWithExtra(known map[string]any, extra map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]any, len(known)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		if _, kept := extra[k]; kept && emptyValue(v) {
			continue
		}
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case Multi:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case Score:
		return !t.Scored()
	}
	return false
}
