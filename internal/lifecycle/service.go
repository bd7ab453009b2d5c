package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/bulkorders/internal/auth"
	"github.com/rpattn/bulkorders/internal/clock"
	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/logging"
	"github.com/rpattn/bulkorders/internal/notify"
	"github.com/rpattn/bulkorders/internal/repository"
)

// DefaultActor is recorded when no user is attached to a change.
const DefaultActor = "system"

// ErrInvalidLocation is returned when only one coordinate, or an out of range
// coordinate, is supplied with a status change.
var ErrInvalidLocation = errors.New("latitude and longitude must be supplied together and be in range")

// TransitionRequest is a requested status change.
type TransitionRequest struct {
	Status    string   `json:"status"`
	Reason    *string  `json:"reason,omitempty"`
	Notes     *string  `json:"notes,omitempty"`
	UpdatedBy *string  `json:"updatedBy,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// StatusChange is the payload published after a transition commits.
type StatusChange struct {
	Order domain.Order       `json:"order"`
	Event domain.StatusEvent `json:"event"`
}

// Service creates orders and moves them through their status lifecycle.
type Service struct {
	store    repository.Store
	machine  *Machine
	clock    clock.Clock
	notifier notify.Notifier
}

// NewService wires the lifecycle service. A nil notifier discards events.
func NewService(store repository.Store, clk clock.Clock, notifier notify.Notifier) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{store: store, machine: NewMachine(), clock: clk, notifier: notifier}
}

// WithStore returns a copy of the service bound to store, typically the
// transactional view handed out by Store.WithTx.
func (s *Service) WithStore(store repository.Store) *Service {
	clone := *s
	clone.store = store
	return &clone
}

// Machine exposes the transition rules.
func (s *Service) Machine() *Machine {
	return s.machine
}

// Create persists draft as a new PENDING order and records the initial history
// event. Callers publish notify.EventOrderCreated once their unit of work commits.
func (s *Service) Create(ctx context.Context, draft domain.Order, actor string) (domain.Order, error) {
	if actor == "" {
		actor = DefaultActor
	}
	now := s.clock.Now()

	order := draft
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.Status = domain.OrderStatusPending
	order.DeliveryDate = nil
	order.Version = 1
	order.CreatedAt = now
	order.UpdatedAt = now

	event := domain.NewStatusEvent(order.ID, nil, domain.OrderStatusPending, actor, now)

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		created, err := tx.Orders().Create(ctx, order)
		if err != nil {
			return err
		}
		order = created
		return tx.Orders().AppendEvent(ctx, event)
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	order.History = []domain.StatusEvent{event}
	return order, nil
}

// Get returns an order with its full history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	order, err := s.store.Orders().GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	history, err := s.store.Orders().ListEvents(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order.History = history
	return order, nil
}

// Transition moves an order to the requested status and appends one history
// event. Rejected requests leave the order untouched.
func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, req TransitionRequest) (domain.Order, domain.StatusEvent, error) {
	to, err := s.machine.ParseTarget("", req.Status)
	if err != nil {
		return domain.Order{}, domain.StatusEvent{}, err
	}
	location, err := geoPoint(req.Latitude, req.Longitude)
	if err != nil {
		return domain.Order{}, domain.StatusEvent{}, err
	}
	actor := auth.ResolveActor(ctx, req.UpdatedBy, DefaultActor)

	var (
		updated domain.Order
		event   domain.StatusEvent
	)
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		if err := s.machine.ValidateTransition(from, to); err != nil {
			return err
		}

		now := s.clock.Now()
		order.Status = to
		order.UpdatedAt = now
		if to == domain.OrderStatusDelivered && order.DeliveryDate == nil {
			day := dateOf(now)
			order.DeliveryDate = &day
		}

		updated, err = tx.Orders().Update(ctx, order, order.Version)
		if err != nil {
			return err
		}

		event = domain.NewStatusEvent(order.ID, domain.StatusPtr(from), to, actor, now)
		event.Reason = nonBlank(req.Reason)
		event.Notes = nonBlank(req.Notes)
		event.Location = location
		if err := tx.Orders().AppendEvent(ctx, event); err != nil {
			return err
		}

		history, err := tx.Orders().ListEvents(ctx, order.ID)
		if err != nil {
			return err
		}
		updated.History = history
		return nil
	})
	if err != nil {
		return domain.Order{}, domain.StatusEvent{}, err
	}

	logging.FromContext(ctx).Info("order status changed",
		"order_id", updated.ID,
		"from", *event.FromStatus,
		"to", event.ToStatus,
		"actor", actor,
	)
	s.notifier.Publish(ctx, notify.EventOrderStatusChanged, StatusChange{Order: updated, Event: event})
	return updated, event, nil
}

func geoPoint(lat, lng *float64) (*domain.GeoPoint, error) {
	if lat == nil && lng == nil {
		return nil, nil
	}
	if lat == nil || lng == nil {
		return nil, ErrInvalidLocation
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return nil, ErrInvalidLocation
	}
	return &domain.GeoPoint{Latitude: *lat, Longitude: *lng}, nil
}

func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func nonBlank(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
