// Package tabular handles read replies in the flat CSV return format.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
)

// Table is a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Parse reads CSV text. Blank input is an empty table.
func Parse(text string) (*Table, error) {
	if strings.TrimSpace(text) == "" {
		return &Table{}, nil
	}
	// Replies may use bare CR line breaks.
	text = strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", core.ErrMalformedResponse, err)
	}
	t := &Table{Header: normalizeHeader(header)}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %v", core.ErrMalformedResponse, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(t.Header) {
			return nil, fmt.Errorf("%w: csv row has %d fields, header has %d", core.ErrMalformedResponse, len(rec), len(t.Header))
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func normalizeHeader(h []string) []string {
	out := make([]string, 0, len(h))
	for i, name := range h {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		out = append(out, name)
	}
	return out
}

// Len is the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds other's rows. An empty table adopts other's header.
func (t *Table) Append(other *Table) error {
	if other == nil || (len(other.Header) == 0 && len(other.Rows) == 0) {
		return nil
	}
	if len(t.Header) == 0 {
		t.Header = append([]string(nil), other.Header...)
	} else if !sameHeader(t.Header, other.Header) {
		return fmt.Errorf("%w: csv page header %v does not match %v", core.ErrProtocolViolation, other.Header, t.Header)
	}
	t.Rows = append(t.Rows, other.Rows...)
	return nil
}

// Truncate keeps at most n rows.
func (t *Table) Truncate(n int) {
	if n >= 0 && len(t.Rows) > n {
		t.Rows = t.Rows[:n]
	}
}

func sameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the table as CSV with a header row.
func (t *Table) String() string {
	if t == nil || len(t.Header) == 0 {
		return ""
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(t.Header)
	_ = w.WriteAll(t.Rows)
	return buf.String()
}

// Records converts each row into a record of the given object type.
func (t *Table) Records(object string) []core.Record {
	if t == nil {
		return nil
	}
	out := make([]core.Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		fields := make(map[string]any, len(t.Header))
		for i, name := range t.Header {
			fields[name] = row[i]
		}
		out = append(out, core.NewOrderedRecord(object, fields, t.Header))
	}
	return out
}

// FromRecords lays records out as a table; the header is the union of field
// names in first-appearance order.
func FromRecords(records []core.Record) *Table {
	t := &Table{}
	seen := map[string]int{}
	for _, r := range records {
		for _, name := range r.FieldNames() {
			if _, ok := seen[name]; !ok {
				seen[name] = len(t.Header)
				t.Header = append(t.Header, name)
			}
		}
	}
	for _, r := range records {
		row := make([]string, len(t.Header))
		for name := range r.Fields {
			row[seen[name]] = r.Text(name)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
