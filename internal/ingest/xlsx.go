package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX reads one sheet of an XLSX workbook. An empty sheet name selects
// the first sheet.
func ReadXLSX(path, sheet string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	return readWorkbook(f, sheet)
}

// ReadXLSXBytes is ReadXLSX for an in-memory workbook, e.g. an upload body.
func ReadXLSXBytes(data []byte, sheet string) (*Table, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	return readWorkbook(f, sheet)
}

func readWorkbook(f *xlsx.File, sheet string) (*Table, error) {
	s, err := getSheet(f, sheet)
	if err != nil {
		return nil, err
	}
	records := make([][]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		records = append(records, rowToStrings(row))
	}
	return newTable(records)
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
