package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/rpattn/bulkorders/internal/logging"
)

// DefaultMaxFileSize bounds the size of an uploaded spreadsheet.
const DefaultMaxFileSize int64 = 10 << 20

const multipartMemory = 32 << 20

// ErrorResponse is the JSON body of a rejected upload.
type ErrorResponse struct {
	Error          string     `json:"error"`
	Code           string     `json:"code"`
	MissingHeaders []string   `json:"missingHeaders,omitempty"`
	BatchID        *uuid.UUID `json:"batchId,omitempty"`
}

// Handler exposes ingestion as an HTTP endpoint.
type Handler struct {
	service     *Service
	maxFileSize int64
}

// NewHTTPHandler wraps the service with a multipart POST endpoint reading the
// "file" field.
func NewHTTPHandler(service *Service, maxFileSize int64) http.Handler {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Handler{service: service, maxFileSize: maxFileSize}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("file exceeds %d bytes", h.maxFileSize),
				Code:  "FILE_TOO_LARGE",
			})
			return
		}
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid form data: %v", err), Code: "INVALID_REQUEST"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("file required: %v", err), Code: "INVALID_REQUEST"})
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("file exceeds %d bytes", h.maxFileSize),
			Code:  "FILE_TOO_LARGE",
		})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("failed to read file: %v", err), Code: "INVALID_REQUEST"})
		return
	}

	summary, err := h.service.Process(r.Context(), Upload{FileName: header.Filename, Data: data})
	if err != nil {
		h.respondProcessError(w, r, summary, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) respondProcessError(w http.ResponseWriter, r *http.Request, summary BatchSummary, err error) {
	var batchID *uuid.UUID
	if summary.BatchID != uuid.Nil {
		id := summary.BatchID
		batchID = &id
	}

	var headerErr *HeaderError
	var formatErr *FormatError
	switch {
	case errors.As(err, &headerErr):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:          headerErr.Error(),
			Code:           headerErr.Code(),
			MissingHeaders: headerErr.Missing,
			BatchID:        batchID,
		})
	case errors.As(err, &formatErr):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Error: formatErr.Error(), Code: formatErr.Code(), BatchID: batchID})
	case errors.Is(err, ErrBusy):
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "BUSY"})
	default:
		logging.FromContext(r.Context()).Error("batch processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "batch processing failed", Code: "INTERNAL", BatchID: batchID})
	}
}

// multipartOverhead leaves room for boundaries and part headers around the file.
const multipartOverhead = 1 << 20

func writeError(w http.ResponseWriter, status int, payload ErrorResponse) {
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
