package lifecycle

import (
	"fmt"

	"github.com/rpattn/bulkorders/internal/domain"
)

// Error codes for rejected status changes.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeUnknownStatus     = "UNKNOWN_STATUS"
)

// TransitionRule defines an allowed order status transition.
type TransitionRule struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

// DefaultTransitions defines the allowed order status transitions. Terminal
// statuses have no outgoing edges.
var DefaultTransitions = []TransitionRule{
	{From: domain.OrderStatusPending, To: domain.OrderStatusConfirmed},
	{From: domain.OrderStatusPending, To: domain.OrderStatusCancelled},
	{From: domain.OrderStatusConfirmed, To: domain.OrderStatusPickedUp},
	{From: domain.OrderStatusConfirmed, To: domain.OrderStatusCancelled},
	{From: domain.OrderStatusPickedUp, To: domain.OrderStatusInTransit},
	{From: domain.OrderStatusPickedUp, To: domain.OrderStatusReturned},
	{From: domain.OrderStatusInTransit, To: domain.OrderStatusDelivered},
	{From: domain.OrderStatusInTransit, To: domain.OrderStatusReturned},
}

// Machine validates order status transitions.
type Machine struct {
	transitions []TransitionRule
}

// NewMachine creates a machine with default rules.
func NewMachine() *Machine {
	return &Machine{transitions: DefaultTransitions}
}

// ParseTarget resolves a requested status name.
func (m *Machine) ParseTarget(from domain.OrderStatus, raw string) (domain.OrderStatus, error) {
	to, ok := domain.ParseOrderStatus(raw)
	if !ok {
		return "", &TransitionError{
			Code:    CodeUnknownStatus,
			From:    from,
			To:      domain.OrderStatus(raw),
			Message: fmt.Sprintf("unknown order status %q", raw),
		}
	}
	return to, nil
}

// ValidateTransition checks if a transition from->to is allowed. Staying in the
// same status is not a transition and is rejected.
func (m *Machine) ValidateTransition(from, to domain.OrderStatus) error {
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}

	message := fmt.Sprintf("no transition defined from %s to %s", from, to)
	if from.IsTerminal() {
		message = fmt.Sprintf("order is %s and can no longer change status", from)
	}
	return &TransitionError{
		Code:    CodeInvalidTransition,
		From:    from,
		To:      to,
		Message: message,
	}
}

// AllowedTransitions returns all valid target statuses from the given status.
func (m *Machine) AllowedTransitions(from domain.OrderStatus) []domain.OrderStatus {
	allowed := []domain.OrderStatus{}
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// TransitionError is a structured error for rejected status changes.
type TransitionError struct {
	Code    string             `json:"code"`
	From    domain.OrderStatus `json:"from"`
	To      domain.OrderStatus `json:"to"`
	Message string             `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
