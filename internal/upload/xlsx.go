package upload

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/kitchen-cli/internal/etl"
)

// ReadXLSX reads one sheet of a workbook. Numeric cells keep their numeric
// type so item numbers and date serials survive intact.
func ReadXLSX(ctx context.Context, path string, opts Options) ([]etl.Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return readWorkbook(ctx, f, opts)
}

// ParseXLSX reads a workbook held in memory, as received by an upload handler.
func ParseXLSX(ctx context.Context, data []byte, opts Options) ([]etl.Row, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	return readWorkbook(ctx, f, opts)
}

func readWorkbook(ctx context.Context, f *xlsx.File, opts Options) ([]etl.Row, error) {
	sheet, err := getSheet(f, opts.SheetName)
	if err != nil {
		return nil, err
	}

	var (
		h    *header
		rows []etl.Row
	)
	for i, row := range sheet.Rows {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "xlsx: context cancelled")
		}
		if i < opts.SkipRows || row == nil {
			continue
		}
		if h == nil {
			if h, err = newHeader(rowToStrings(row)); err != nil {
				return nil, err
			}
			continue
		}
		if r := h.row(rowToValues(row)); r != nil {
			rows = append(rows, r)
		}
	}
	if h == nil {
		return nil, eris.New("xlsx: no header row")
	}
	return rows, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func rowToValues(row *xlsx.Row) []etl.Value {
	cells := make([]etl.Value, len(row.Cells))
	for j, cell := range row.Cells {
		if cell == nil {
			cells[j] = etl.Null()
			continue
		}
		if cell.Type() == xlsx.CellTypeNumeric {
			if f, err := cell.Float(); err == nil {
				cells[j] = etl.Num(f)
				continue
			}
		}
		cells[j] = etl.Str(cell.String())
	}
	return cells
}
