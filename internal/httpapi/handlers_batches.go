package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/export"
	"github.com/rpattn/bulkorders/internal/logging"
	"github.com/rpattn/bulkorders/internal/middleware"
	"github.com/rpattn/bulkorders/internal/orderloader"
)

type batchRowView struct {
	domain.RowOutcome
	OrderStatus *domain.OrderStatus `json:"orderStatus,omitempty"`
}

type batchDetail struct {
	Batch domain.Batch   `json:"batch"`
	Rows  []batchRowView `json:"rows"`
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.BatchFilter{}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.BatchStatus(strings.ToUpper(raw))
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown batch status "+strconv.Quote(raw))
			return
		}
		filter.Status = &status
	}
	var ok bool
	if filter.Limit, ok = intParam(w, query.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, query.Get("offset"), "offset"); !ok {
		return
	}

	batches, err := s.ingestion.Batches(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	batch, rows, err := s.ingestion.Batch(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var orderIDs []uuid.UUID
	for _, row := range rows {
		if row.OrderID != nil {
			orderIDs = append(orderIDs, *row.OrderID)
		}
	}

	loader := middleware.OrderLoaderFromContext(r.Context())
	if loader == nil {
		loader = orderloader.NewOrderLoader(s.store.Orders())
	}
	orders, err := loader.LoadMany(r.Context(), orderIDs)
	if err != nil {
		respondError(w, r, err)
		return
	}

	detail := batchDetail{Batch: batch, Rows: make([]batchRowView, 0, len(rows))}
	for _, row := range rows {
		view := batchRowView{RowOutcome: row}
		if row.OrderID != nil {
			if order, found := orders[*row.OrderID]; found {
				status := order.Status
				view.OrderStatus = &status
			}
		}
		detail.Rows = append(detail.Rows, view)
	}
	writeJSON(w, http.StatusOK, detail)
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleBatchReport(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	batch, rows, err := s.ingestion.Batch(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(batch, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := export.WriteBatchReport(w, format, rows); err != nil {
		logging.FromContext(r.Context()).Error("write batch report", "batch_id", id, "error", err)
	}
}
