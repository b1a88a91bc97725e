package leads

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

// multiSep joins multi-valued cells.
const multiSep = "; "

var leadFields = []schema.Field{
	{Name: "name", Type: "string"},
	{Name: "title", Type: "string", Nullable: true},
	{Name: "company", Type: "string", Nullable: true},
	{Name: "email", Type: "string", Nullable: true},
	{Name: "phone", Type: "string", Nullable: true},
	{Name: "linkedin", Type: "string", Nullable: true},
	{Name: "relevance_score", Type: "int", Nullable: true},
	{Name: "relevant_info", Type: "string", Nullable: true},
	{Name: "approach_recommendation", Type: "string", Nullable: true},
	{Name: "notes", Type: "string", Nullable: true},
	{Name: "source_urls", Type: "string", Nullable: true},
}

// Contract is the stable leads table layout in the given format.
func Contract(format schema.Format) schema.TableContract {
	return schema.TableContract{Format: format, Fields: leadFields}
}

// Rows flattens leads into table rows in Contract column order.
func Rows(leads []Lead) [][]string {
	rows := make([][]string, 0, len(leads))
	for _, l := range leads {
		rows = append(rows, []string{
			l.Name,
			l.Title,
			l.Company,
			l.Email.String(),
			l.Phone.String(),
			l.LinkedIn.String(),
			l.RelevanceScore.String(),
			l.RelevantInfo,
			l.ApproachRecommendation,
			l.Notes,
			strings.Join(l.SourceURLs, multiSep),
		})
	}
	return rows
}

// WriteDelimited writes leads with a header row.
func WriteDelimited(w io.Writer, leads []Lead, format schema.Format) error {
	return local.WriteTable(w, Contract(format), Rows(leads))
}

// FormatDelimited renders leads as CSV or TSV text.
func FormatDelimited(leads []Lead, format schema.Format) (string, error) {
	var sb strings.Builder
	if err := WriteDelimited(&sb, leads, format); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ReadDelimited parses a table written by WriteDelimited. Columns are matched by
// header name, so extra or reordered columns are tolerated.
func ReadDelimited(r io.Reader, format schema.Format) ([]Lead, error) {
	cr := csv.NewReader(r)
	cr.Comma = Contract(format).Delimiter()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["name"]; !ok {
		return nil, fmt.Errorf("header has no name column")
	}

	var out []Lead
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cell := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		l := Lead{
			Name:                   cell("name"),
			Title:                  cell("title"),
			Company:                cell("company"),
			Email:                  splitMulti(cell("email")),
			Phone:                  splitMulti(cell("phone")),
			LinkedIn:               splitMulti(cell("linkedin")),
			RelevanceScore:         Unscored,
			RelevantInfo:           cell("relevant_info"),
			ApproachRecommendation: cell("approach_recommendation"),
			Notes:                  cell("notes"),
			SourceURLs:             []string(splitMulti(cell("source_urls"))),
		}
		if s := cell("relevance_score"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("line %d: relevance_score %q: %w", line, s, err)
			}
			l.RelevanceScore = clampScore(n)
		}
		out = append(out, l)
	}
}

func splitMulti(s string) Multi {
	var m Multi
	for _, part := range strings.Split(s, strings.TrimSpace(multiSep)) {
		m = m.With(part)
	}
	return m
}
