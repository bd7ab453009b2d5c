package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPickedUp  OrderStatus = "PICKED_UP"
	OrderStatusInTransit OrderStatus = "IN_TRANSIT"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusReturned  OrderStatus = "RETURNED"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPickedUp,
	OrderStatusInTransit,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// ParseOrderStatus resolves a status name. Matching ignores case and surrounding space.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, status := range OrderStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// ServiceTier is the delivery service level requested for an order.
type ServiceTier string

const (
	ServiceTierStandard ServiceTier = "STANDARD"
	ServiceTierExpress  ServiceTier = "EXPRESS"
	ServiceTierSameDay  ServiceTier = "SAME_DAY"
)

var serviceTiers = []ServiceTier{ServiceTierStandard, ServiceTierExpress, ServiceTierSameDay}

// ParseServiceTier maps free-form text such as "same day" or "Express" to a tier.
// Unknown values are an error; there is no default tier.
func ParseServiceTier(raw string) (ServiceTier, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, tier := range serviceTiers {
		if ServiceTier(normalized) == tier {
			return tier, nil
		}
	}
	return "", fmt.Errorf("unknown service type %q", raw)
}

// Party is a sender or receiver of a shipment.
type Party struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
}

// GeoPoint is an optional location captured with a status change.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Order is a shipment order created from an ingested row.
type Order struct {
	ID              uuid.UUID     `json:"id"`
	IdempotencyKey  string        `json:"idempotencyKey"`
	IdentityBasis   IdentityBasis `json:"idempotencyBasis"`
	ClientReference *string       `json:"clientReference,omitempty"`
	Sender          Party         `json:"sender"`
	Receiver        Party         `json:"receiver"`
	PackageCount    int           `json:"packageCount"`
	PackageWeight   Fixed2        `json:"packageWeight"`
	ServiceType     ServiceTier   `json:"serviceType"`
	Carrier         *string       `json:"carrier,omitempty"`
	DeclaredValue   *Fixed2       `json:"declaredValue,omitempty"`
	CODAmount       *Fixed2       `json:"codAmount,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
	Status          OrderStatus   `json:"status"`
	DeliveryDate    *time.Time    `json:"deliveryDate,omitempty"`
	BatchID         *uuid.UUID    `json:"batchId,omitempty"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	History         []StatusEvent `json:"history,omitempty"`
}

// StatusEvent is one append-only entry of an order's status history.
// FromStatus is nil for the creation event.
type StatusEvent struct {
	ID         uuid.UUID    `json:"id"`
	OrderID    uuid.UUID    `json:"orderId"`
	FromStatus *OrderStatus `json:"fromStatus"`
	ToStatus   OrderStatus  `json:"toStatus"`
	ChangedBy  string       `json:"changedBy"`
	Reason     *string      `json:"reason,omitempty"`
	Notes      *string      `json:"notes,omitempty"`
	Location   *GeoPoint    `json:"location,omitempty"`
	At         time.Time    `json:"at"`
}

// NewStatusEvent builds a history entry for an order moving from one status to another.
func NewStatusEvent(orderID uuid.UUID, from *OrderStatus, to OrderStatus, changedBy string, at time.Time) StatusEvent {
	return StatusEvent{
		ID:         uuid.New(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  changedBy,
		At:         at,
	}
}

// StatusPtr returns a pointer to a copy of s.
func StatusPtr(s OrderStatus) *OrderStatus {
	return &s
}
