// Package workbook writes stored records to XLSX and reads branch
// credential sheets back.
package workbook

import (
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/pharmalink/provider-sync/internal/model"
)

// RecordColumns is the header row of every record sheet.
var RecordColumns = []string{"sucursal", "referencia_cliente", "fecha", "codigo_busqueda"}

// Build creates a workbook with one sheet per provider, in name order.
func Build(sets map[string][]model.Record) (*xlsx.File, error) {
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)

	f := xlsx.NewFile()
	for _, name := range names {
		sheet, err := f.AddSheet(name)
		if err != nil {
			return nil, eris.Wrapf(err, "xlsx: add sheet %s", name)
		}
		addRow(sheet, RecordColumns)
		for _, r := range sets[name] {
			var day string
			if !r.Date.IsZero() {
				day = r.Date.UTC().Format(model.RecordTimeLayout)
			}
			addRow(sheet, []string{r.Branch, r.CustomerReference, day, r.SearchCode})
		}
	}
	if len(names) == 0 {
		sheet, err := f.AddSheet("records")
		if err != nil {
			return nil, eris.Wrap(err, "xlsx: add sheet")
		}
		addRow(sheet, RecordColumns)
	}
	return f, nil
}

// Save writes the record sets to path.
func Save(path string, sets map[string][]model.Record) error {
	f, err := Build(sets)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

// Write streams the record sets to w.
func Write(w io.Writer, sets map[string][]model.Record) error {
	f, err := Build(sets)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

// Options selects the sheet to read.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadRows reads every row of a sheet as strings.
func ReadRows(path string, opts Options) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

// ReadBranches reads a credentials sheet: the header row names the branch
// table columns, each following row is one branch. The branch code column
// is named by key. Blank cells are left out; rows without a code are
// skipped.
func ReadBranches(path string, opts Options, key string) (map[string]map[string]string, error) {
	rows, err := ReadRows(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("xlsx: sheet is empty")
	}

	header := make([]string, len(rows[0]))
	keyCol := -1
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		if header[i] == key {
			keyCol = i
		}
	}
	if keyCol < 0 {
		return nil, eris.Errorf("xlsx: header has no %q column", key)
	}

	out := make(map[string]map[string]string)
	for _, row := range rows[1:] {
		if keyCol >= len(row) {
			continue
		}
		code := model.NormalizeBranchCode(row[keyCol])
		if code == "" {
			continue
		}
		fields := make(map[string]string)
		for i, v := range row {
			if i == keyCol || i >= len(header) || header[i] == "" {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				fields[header[i]] = v
			}
		}
		out[code] = fields
	}
	return out, nil
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
