package ingestion

import (
	"errors"
	"fmt"
	"strings"
)

// Batch-level error codes.
const (
	CodeMissingRequiredHeaders = "MISSING_REQUIRED_HEADERS"
	CodeMalformedFile          = "MALFORMED_FILE"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrBusy is returned when too many batches are already being processed.
	ErrBusy = errors.New("too many batches in progress")
)

// HeaderError reports required columns absent from the header row.
type HeaderError struct {
	Missing []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("missing required headers: %s", strings.Join(e.Missing, ", "))
}

// Code returns the stable error code.
func (e *HeaderError) Code() string {
	return CodeMissingRequiredHeaders
}

// FormatError reports a file that cannot be read as a table.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed file: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Code returns the stable error code.
func (e *FormatError) Code() string {
	return CodeMalformedFile
}

// IsStructural reports whether err aborts a whole batch rather than a single row.
func IsStructural(err error) bool {
	var headerErr *HeaderError
	var formatErr *FormatError
	return errors.As(err, &headerErr) || errors.As(err, &formatErr)
}
