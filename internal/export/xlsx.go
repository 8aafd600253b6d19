// Package export writes read results to spreadsheet files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/tabular"
	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// Records writes an XLSX workbook with one sheet per object type, in first
// appearance order. Each sheet has a header row with the union of field names.
func Records(w io.Writer, records []core.Record) error {
	types := core.ObjectTypesOf(records)
	sheets := make([]sheet, 0, types.Len())
	for _, object := range types.Names() {
		var group []core.Record
		for _, r := range records {
			if r.Object == object {
				group = append(group, r)
			}
		}
		sheets = append(sheets, sheet{name: object, table: tableOf(group)})
	}
	return write(w, sheets)
}

// Table writes a single-sheet workbook from a tabular read.
func Table(w io.Writer, name string, t *tabular.Table) error {
	if t == nil {
		t = &tabular.Table{}
	}
	return write(w, []sheet{{name: name, table: t}})
}

type sheet struct {
	name  string
	table *tabular.Table
}

func write(w io.Writer, sheets []sheet) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	used := map[string]bool{}
	for i, s := range sheets {
		name := sheetName(s.name, used)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("add sheet %s: %w", name, err)
		}
		if err := fillSheet(f, name, s.table); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func fillSheet(f *excelize.File, name string, t *tabular.Table) error {
	if len(t.Header) == 0 {
		return nil
	}
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("write header of %s: %w", name, err)
	}
	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &cells); err != nil {
			return fmt.Errorf("write row %d of %s: %w", i+1, name, err)
		}
	}
	return nil
}

// tableOf lays records out as rows; nested values are written as JSON.
func tableOf(records []core.Record) *tabular.Table {
	flat := make([]core.Record, 0, len(records))
	for _, r := range records {
		c := r.Clone()
		for k, v := range c.Fields {
			switch v.(type) {
			case map[string]any, []any:
				b, err := json.Marshal(v)
				if err == nil {
					c.Fields[k] = string(b)
				}
			}
		}
		flat = append(flat, c)
	}
	return tabular.FromRecords(flat)
}

// sheetName makes name a valid, unique worksheet name.
func sheetName(name string, used map[string]bool) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		name = "data"
	}
	if len([]rune(name)) > 31 {
		name = string([]rune(name)[:31])
	}
	base := name
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf("_%d", n)
		r := []rune(base)
		if len(r)+len(suffix) > 31 {
			r = r[:31-len(suffix)]
		}
		name = string(r) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}
