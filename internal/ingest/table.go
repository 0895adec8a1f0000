// Package ingest reads training-record source files (CSV or XLSX) into
// header-keyed rows ready for normalization.
package ingest

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/training-stats/internal/normalize"
)

// ErrNoHeader is returned when a source has no non-blank header row. It is
// the only fatal input condition; malformed data rows are tolerated.
var ErrNoHeader = eris.New("ingest: no header row")

// Table is a parsed source file. Rows are keyed by trimmed header name.
// Cells of known columns are trimmed; unknown columns are kept unmodified for
// traceability.
type Table struct {
	Header     []string        `json:"header"`
	Rows       []normalize.Row `json:"rows"`
	RaggedRows int             `json:"ragged_rows"` // rows whose cell count differs from the header
}

// RawRows returns the rows as plain maps for persistence.
func (t *Table) RawRows() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r
	}
	return out
}

// FromRawRows rebuilds a Table from persisted rows.
func FromRawRows(header []string, rows []map[string]string) *Table {
	t := &Table{Header: header, Rows: make([]normalize.Row, len(rows))}
	for i, r := range rows {
		t.Rows[i] = r
	}
	return t
}

// cleanHeader trims and NFC-composes a header cell.
func cleanHeader(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// newTable builds a Table from raw records. Leading blank rows are skipped and
// the first non-blank row is the header. Duplicate header names get the lowest
// free "_n" suffix so no column is silently dropped.
func newTable(records [][]string) (*Table, error) {
	start := -1
	for i, rec := range records {
		if !isBlankRecord(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrNoHeader
	}

	used := make(map[string]bool)
	header := make([]string, len(records[start]))
	for i, h := range records[start] {
		h = cleanHeader(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		header[i] = uniqueHeader(h, used)
	}

	t := &Table{Header: header}
	for _, rec := range records[start+1:] {
		if isBlankRecord(rec) {
			continue
		}
		if len(rec) != len(header) {
			t.RaggedRows++
		}
		row := make(normalize.Row, len(header))
		for i, h := range header {
			if i >= len(rec) {
				continue
			}
			if normalize.IsKnownColumn(h) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// uniqueHeader returns h, or h with the lowest "_n" suffix (n >= 2) not yet
// taken, and marks the result as used.
func uniqueHeader(h string, used map[string]bool) string {
	name := h
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("%s_%d", h, n)
	}
	used[name] = true
	return name
}

func isBlankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
