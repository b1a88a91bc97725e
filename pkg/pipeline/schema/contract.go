package schema

import (
	"strings"
)

// Format is the on-disk encoding of a tabular output.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatJSONL Format = "jsonl"
)

// Field captures the minimal behavior-relevant schema fields.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// TableContract is the logical schema contract for a tabular pipeline output.
type TableContract struct {
	Format Format
	Fields []Field
}

// Header returns the column names in contract order.
func (c TableContract) Header() []string {
	out := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Delimiter returns the field separator for delimited formats.
func (c TableContract) Delimiter() rune {
	if c.Format == FormatTSV {
		return '\t'
	}
	return ','
}

// NormalizeFormat maps user input (flag values, file extensions, delimiters) to a Format.
// Unknown values fall back to CSV.
func NormalizeFormat(raw string) Format {
	s := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(raw)), ".")
	switch s {
	case "tsv", "tab", "\t", `\t`:
		return FormatTSV
	case "jsonl", "ndjson", "json":
		return FormatJSONL
	default:
		return FormatCSV
	}
}
