package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/lifecycle"
)

const maxTransitionBody = 64 << 10

type orderView struct {
	domain.Order
	AllowedTransitions []domain.OrderStatus `json:"allowedTransitions"`
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := s.orders.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	allowed := s.orders.Machine().AllowedTransitions(order.Status)
	if allowed == nil {
		allowed = []domain.OrderStatus{}
	}
	writeJSON(w, http.StatusOK, orderView{Order: order, AllowedTransitions: allowed})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "orderID")
	if !ok {
		return
	}

	var req lifecycle.TransitionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTransitionBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}

	order, event, err := s.orders.Transition(r.Context(), id, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lifecycle.StatusChange{Order: order, Event: event})
}
