package upload

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/kitchen-cli/internal/etl"
)

// ReadCSV parses a delimited price list. The first row after SkipRows is the
// header. Input that is not valid UTF-8 is decoded as Windows-1252, the
// encoding spreadsheet exports fall back to.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) ([]etl.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "csv: read")
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, eris.Wrap(err, "csv: decode windows-1252")
		}
		zap.L().Debug("csv: decoded as windows-1252")
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var (
		h    *header
		rows []etl.Row
		line int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		line++
		if line <= opts.SkipRows {
			continue
		}
		if h == nil {
			if h, err = newHeader(record); err != nil {
				return nil, err
			}
			continue
		}
		cells := make([]etl.Value, len(record))
		for i, s := range record {
			cells[i] = etl.Str(s)
		}
		if row := h.row(cells); row != nil {
			rows = append(rows, row)
		}
	}
	if h == nil {
		return nil, eris.New("csv: no header row")
	}
	return rows, nil
}
