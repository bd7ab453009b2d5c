// Package export renders batch row outcomes as downloadable reports so
// operators can correct failed rows and upload them again.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/bulkorders/internal/domain"
)

// Format is a report encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for formats other than csv and xlsx.
var ErrUnsupportedFormat = errors.New("unsupported report format")

const sheetName = "Rows"

var reportHeaders = []string{"rowIndex", "status", "idempotencyBasis", "identityKey", "orderId", "errors", "recordedAt"}

// ParseFormat resolves a format name, defaulting to csv when blank.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// ContentType is the MIME type served for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// FileName is the attachment name for a batch report.
func FileName(batch domain.Batch, f Format) string {
	base := strings.TrimSuffix(batch.SourceFileName, fileExt(batch.SourceFileName))
	base = sanitizeFileComponent(base)
	if base == "" {
		base = "batch"
	}
	return fmt.Sprintf("%s-%s-report.%s", base, shortID(batch.ID), f)
}

// WriteBatchReport writes one line per persisted row outcome and returns the
// number of bytes written.
func WriteBatchReport(w io.Writer, f Format, rows []domain.RowOutcome) (int64, error) {
	switch f {
	case FormatCSV:
		return writeCSV(w, rows)
	case FormatXLSX:
		return writeXLSX(w, rows)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

func writeCSV(w io.Writer, rows []domain.RowOutcome) (int64, error) {
	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	if err := csvWriter.Write(reportHeaders); err != nil {
		return counter.count, fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := csvWriter.Write(reportRecord(row)); err != nil {
			return counter.count, fmt.Errorf("write row %d: %w", row.RowIndex, err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return counter.count, fmt.Errorf("flush rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return counter.count, fmt.Errorf("flush buffered rows: %w", err)
	}
	return counter.count, nil
}

func writeXLSX(w io.Writer, rows []domain.RowOutcome) (int64, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return 0, fmt.Errorf("open stream writer: %w", err)
	}

	if err := sw.SetRow("A1", toCells(reportHeaders)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		values := toCells(reportRecord(row))
		values[0] = row.RowIndex
		if err := sw.SetRow(cell, values); err != nil {
			return 0, fmt.Errorf("write row %d: %w", row.RowIndex, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return 0, fmt.Errorf("flush sheet: %w", err)
	}
	return f.WriteTo(w)
}

func reportRecord(row domain.RowOutcome) []string {
	orderID := ""
	if row.OrderID != nil {
		orderID = row.OrderID.String()
	}
	return []string{
		strconv.Itoa(row.RowIndex),
		string(row.Status),
		string(row.Basis),
		row.IdentityKey,
		orderID,
		formatErrors(row.Errors),
		row.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// formatErrors flattens row errors to "field: message" pairs.
func formatErrors(errs []domain.RowError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Field == "" {
			parts = append(parts, e.Message)
			continue
		}
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func fileExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

func sanitizeFileComponent(value string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func shortID(id uuid.UUID) string {
	return strings.SplitN(id.String(), "-", 2)[0]
}
