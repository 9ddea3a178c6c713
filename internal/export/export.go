// Package export writes row-shaped results as CSV or XLSX. Rows keep the key
// order of their JSON source, and the first row's keys become the header.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/nasher721/Extract721/internal/extraction"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

// DefaultFilename is used when a request names no file.
const DefaultFilename = "extract721_export"

const sheetName = "Extractions"

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_\-]`)

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "No rows to export")

// Row is one record. Keys holds the column order.
type Row struct {
	Keys   []string
	Values map[string]any
}

// NewRow builds a row from alternating key, value pairs.
func NewRow(kv ...any) Row {
	r := Row{Values: make(map[string]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return r
}

// Set appends or replaces key.
func (r *Row) Set(key string, value any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = value
}

// UnmarshalJSON decodes an object, recording key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row must be a JSON object")
	}
	*r = Row{Values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("row field %q: %w", key, err)
		}
		r.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the row with its keys in order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		val, err := json.Marshal(r.Values[k])
		if err != nil {
			return nil, fmt.Errorf("row field %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SanitizeFilename replaces every character other than letters, digits,
// '_' and '-' with '_'. An empty name yields DefaultFilename.
func SanitizeFilename(name string) string {
	if name == "" {
		return DefaultFilename
	}
	return unsafeName.ReplaceAllString(name, "_")
}

// Columns returns the header: the keys of the first row.
func Columns(rows []Row) []string {
	if len(rows) == 0 {
		return nil
	}
	return rows[0].Keys
}

// WriteCSV writes a header and one line per row. Keys missing from a row
// are blank and keys absent from the header are dropped.
func WriteCSV(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}
	cols := Columns(rows)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	record := make([]string, len(cols))
	for i, row := range rows {
		for j, col := range cols {
			record[j] = cellText(row.Values[col])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// XLSX renders rows as a single-sheet workbook.
func XLSX(rows []Row) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	cols := Columns(rows)
	for i, h := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("writing header %s: %w", h, err)
		}
	}
	for r, row := range rows {
		for c, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheetName, cell, cellValue(row.Values[col])); err != nil {
				return nil, fmt.Errorf("writing cell %s: %w", cell, err)
			}
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		slog.Default().With("component", "export").Warn("freezing header row failed", "error", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// DocumentRows flattens annotated documents to one row per extraction.
// Unaligned extractions have blank positions.
func DocumentRows(docs []*extraction.AnnotatedDocument) []Row {
	var rows []Row
	for _, doc := range docs {
		for i := range doc.Extractions {
			e := &doc.Extractions[i]
			row := NewRow(
				"document_id", doc.DocumentID,
				"extraction_index", deref(e.ExtractionIndex),
				"extraction_class", e.ExtractionClass,
				"extraction_text", e.ExtractionText,
				"start", nil,
				"end", nil,
				"alignment_status", string(e.Status()),
				"attributes", nil,
			)
			if e.CharInterval != nil {
				row.Set("start", e.CharInterval.StartPos)
				row.Set("end", e.CharInterval.EndPos)
			}
			if len(e.Attributes) > 0 {
				row.Set("attributes", e.Attributes)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// cellText renders a value for CSV. Objects and arrays are written as JSON.
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return fmt.Sprint(t)
	}
}

// cellValue keeps numbers numeric in XLSX.
func cellValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case nil, bool, int, int64, float64, string:
		return t
	default:
		return strings.TrimSpace(cellText(t))
	}
}
