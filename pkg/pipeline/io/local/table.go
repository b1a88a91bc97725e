package local

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

// TableFile writes rows to a local file using a TableContract. Each row must have
// one value per contract field.
type TableFile struct {
	Path     string
	Contract schema.TableContract
}

func (f TableFile) Store(_ context.Context, rows [][]string) error {
	out, err := os.Create(f.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()
	if err := WriteTable(out, f.Contract, rows); err != nil {
		return err
	}
	return out.Close()
}

// WriteTable encodes rows in the contract's format.
func WriteTable(w io.Writer, c schema.TableContract, rows [][]string) error {
	header := c.Header()
	for i, r := range rows {
		if len(r) != len(header) {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(r), len(header))
		}
	}

	if c.Format == schema.FormatJSONL {
		enc := json.NewEncoder(w)
		for _, r := range rows {
			rec := make(map[string]string, len(header))
			for i, name := range header {
				rec[name] = r[i]
			}
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}

	cw := csv.NewWriter(w)
	cw.Comma = c.Delimiter()
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
