package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/bulkorders/internal/domain"
)

// DefaultMaxRows is the number of data rows read from a single upload.
const DefaultMaxRows = 500

var (
	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
	zipMagic      = []byte{'P', 'K', 0x03, 0x04}
)

// RawRow is one data row after cell coercion.
type RawRow struct {
	// Index is the 1-based ordinal among data rows; blank rows are not counted.
	Index int
	// Line is the 1-based record number in the source, header included.
	Line   int
	Fields map[string]any
	Raw    map[string]string
}

// Text returns the trimmed text of a field, or "" when absent.
func (r RawRow) Text(field string) string {
	if s, ok := r.Fields[field].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Int returns an integer field and whether it was readable.
func (r RawRow) Int(field string) (int64, bool) {
	v, ok := r.Fields[field].(int64)
	return v, ok
}

// Decimal returns a two-decimal field and whether it was readable.
func (r RawRow) Decimal(field string) (domain.Fixed2, bool) {
	v, ok := r.Fields[field].(domain.Fixed2)
	return v, ok
}

// Rows is a read-once cursor over parsed data rows.
type Rows struct {
	headers   []string
	rows      []RawRow
	pos       int
	truncated bool
}

// Next returns the next row, or io.EOF once every row has been consumed.
func (r *Rows) Next() (RawRow, error) {
	if r.pos >= len(r.rows) {
		return RawRow{}, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

// Len is the number of data rows read from the file.
func (r *Rows) Len() int {
	return len(r.rows)
}

// Truncated is true when reading stopped at the row cap.
func (r *Rows) Truncated() bool {
	return r.truncated
}

// Headers returns the canonical names of the recognised columns, in file order.
func (r *Rows) Headers() []string {
	return append([]string(nil), r.headers...)
}

// Parser turns CSV or XLSX bytes into typed rows.
type Parser struct {
	columns []Column
	maxRows int
}

// NewParser creates a parser for the order sheet layout. A non-positive maxRows
// falls back to DefaultMaxRows.
func NewParser(maxRows int) *Parser {
	return NewParserWithColumns(OrderColumns, maxRows)
}

// NewParserWithColumns creates a parser for a custom column layout.
func NewParserWithColumns(columns []Column, maxRows int) *Parser {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Parser{columns: columns, maxRows: maxRows}
}

// recordSource yields raw records one at a time and io.EOF at the end.
type recordSource interface {
	next() ([]string, error)
	close() error
}

// Parse reads the header and at most maxRows data rows. Structural problems are
// reported before any row is returned.
func (p *Parser) Parse(fileName string, data []byte) (*Rows, error) {
	src, err := openSource(fileName, data)
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	defer func() { _ = src.close() }()

	header, line, err := readHeader(src)
	if err != nil {
		return nil, err
	}

	positions, canonical := p.matchHeaders(header)
	if missing := p.missingRequired(positions); len(missing) > 0 {
		return nil, &HeaderError{Missing: missing}
	}

	result := &Rows{headers: canonical}
	for {
		if len(result.rows) == p.maxRows {
			result.truncated = hasMoreRows(src)
			break
		}
		record, err := src.next()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &FormatError{Err: fmt.Errorf("row %d: %w", line, err)}
		}
		if isBlank(record) {
			continue
		}
		result.rows = append(result.rows, p.buildRow(len(result.rows)+1, line, record, positions))
	}
	return result, nil
}

// hasMoreRows reports whether a non-blank record remains. An unreadable
// record still counts as dropped data.
func hasMoreRows(src recordSource) bool {
	for {
		record, err := src.next()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil || !isBlank(record) {
			return true
		}
	}
}

func openSource(fileName string, data []byte) (recordSource, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("file is empty")
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return newCSVSource(data), nil
	case ".xlsx":
		return newExcelSource(data)
	case "":
		if bytes.HasPrefix(data, zipMagic) {
			return newExcelSource(data)
		}
		return newCSVSource(data), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func readHeader(src recordSource) ([]string, int, error) {
	line := 0
	for {
		record, err := src.next()
		if errors.Is(err, io.EOF) {
			return nil, line, &FormatError{Err: errors.New("no header row")}
		}
		line++
		if err != nil {
			return nil, line, &FormatError{Err: fmt.Errorf("header: %w", err)}
		}
		if !isBlank(record) {
			return record, line, nil
		}
	}
}

// matchHeaders maps each known column to its position in the header row.
func (p *Parser) matchHeaders(header []string) (map[string]int, []string) {
	byToken := make(map[string]Column, len(p.columns))
	for _, col := range p.columns {
		byToken[headerToken(col.Name)] = col
	}

	positions := make(map[string]int, len(p.columns))
	var canonical []string
	for idx, raw := range header {
		col, ok := byToken[headerToken(raw)]
		if !ok {
			continue
		}
		if _, seen := positions[col.Name]; seen {
			continue
		}
		positions[col.Name] = idx
		canonical = append(canonical, col.Name)
	}
	return positions, canonical
}

func (p *Parser) missingRequired(positions map[string]int) []string {
	required := mapset.NewSet[string]()
	for _, col := range p.columns {
		if col.Required {
			required.Add(col.Name)
		}
	}
	present := mapset.NewSet[string]()
	for name := range positions {
		present.Add(name)
	}

	absent := required.Difference(present)
	var missing []string
	for _, col := range p.columns {
		if absent.Contains(col.Name) {
			missing = append(missing, col.Name)
		}
	}
	return missing
}

func (p *Parser) buildRow(index, line int, record []string, positions map[string]int) RawRow {
	row := RawRow{
		Index:  index,
		Line:   line,
		Fields: make(map[string]any, len(positions)),
		Raw:    make(map[string]string, len(positions)),
	}
	for _, col := range p.columns {
		pos, ok := positions[col.Name]
		if !ok {
			continue
		}
		var cell string
		if pos < len(record) {
			cell = record[pos]
		}
		row.Raw[col.Name] = cell
		row.Fields[col.Name] = coerceCell(col.Kind, cell)
	}
	return row
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type csvSource struct {
	reader *csv.Reader
}

func newCSVSource(data []byte) *csvSource {
	reader := bufio.NewReader(bytes.NewReader(data))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	return &csvSource{reader: csvReader}
}

func (s *csvSource) next() ([]string, error) {
	return s.reader.Read()
}

func (s *csvSource) close() error {
	return nil
}

type excelSource struct {
	file *excelize.File
	rows *excelize.Rows
}

func newExcelSource(data []byte) (*excelSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return &excelSource{file: f, rows: rows}, nil
}

func (s *excelSource) next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns(excelize.Options{RawCellValue: true})
}

func (s *excelSource) close() error {
	_ = s.rows.Close()
	return s.file.Close()
}
