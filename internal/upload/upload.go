// Package upload turns vendor price list files (CSV and XLSX) into rows for
// the catalog ETL pipeline.
package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/etl"
)

// Options configures how a price list is read.
type Options struct {
	SheetName string // xlsx: sheet to read; first sheet when empty
	SkipRows  int    // rows above the header row
	Delimiter rune   // csv: default ',' (tab for .tsv)
}

// Load reads the file at path, choosing the parser by extension.
func Load(ctx context.Context, path string, opts Options) ([]etl.Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(ctx, path, opts)
	case ".csv", ".txt", ".tsv":
		if opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(path), ".tsv") {
			opts.Delimiter = '\t'
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "upload: open file")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, opts)
	default:
		return nil, eris.Errorf("upload: unsupported file type %q (want .csv, .tsv or .xlsx)", filepath.Ext(path))
	}
}

// header is the resolved column layout of a sheet.
type header struct {
	names []string
}

func newHeader(cells []string) (*header, error) {
	h := &header{names: make([]string, len(cells))}
	seen := make(map[string]bool, len(cells))
	for i, c := range cells {
		name := strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, eris.Errorf("upload: duplicate column %q", name)
		}
		seen[key] = true
		h.names[i] = name
	}
	if len(seen) == 0 {
		return nil, eris.New("upload: header row is empty")
	}
	return h, nil
}

// row builds one etl.Row from parsed cells. Columns without a header are
// dropped; missing trailing cells are null. It returns nil for a row with no
// values.
func (h *header) row(cells []etl.Value) etl.Row {
	r := make(etl.Row, len(h.names))
	blank := true
	for i, name := range h.names {
		if name == "" {
			continue
		}
		v := etl.Null()
		if i < len(cells) {
			v = cells[i]
		}
		if !v.Blank() {
			blank = false
		}
		r[name] = v
	}
	if blank {
		return nil
	}
	return r
}
