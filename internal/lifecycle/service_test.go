package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkorders/internal/auth"
	"github.com/rpattn/bulkorders/internal/clock"
	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/logging"
	"github.com/rpattn/bulkorders/internal/repository"
	"github.com/rpattn/bulkorders/internal/repository/gormstore"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Publish(_ context.Context, eventType string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func setupService(t *testing.T) (*Service, *gormstore.Store, *clock.Fixed, *recordingNotifier) {
	t.Helper()
	db, err := gormstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	store := gormstore.New(db)
	require.NoError(t, store.AutoMigrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	clk := clock.NewFixed(time.Date(2026, 5, 4, 22, 30, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	return NewService(store, clk, notifier), store, clk, notifier
}

func draftOrder() domain.Order {
	return domain.Order{
		IdempotencyKey: "REF-100",
		IdentityBasis:  domain.BasisClientReference,
		Sender:         domain.Party{Name: "Acme", Phone: "+15550100"},
		Receiver:       domain.Party{Name: "Bo", Phone: "5550200", Address: "1 Main St", City: "Springfield"},
		PackageCount:   1,
		PackageWeight:  domain.NewFixed2(1, 50),
		ServiceType:    domain.ServiceTierStandard,
	}
}

func TestCreateStartsPendingWithHistory(t *testing.T) {
	svc, _, clk, _ := setupService(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, draftOrder(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 1, order.Version)
	assert.Nil(t, order.DeliveryDate)
	require.Len(t, order.History, 1)
	assert.Nil(t, order.History[0].FromStatus)
	assert.Equal(t, domain.OrderStatusPending, order.History[0].ToStatus)
	assert.Equal(t, DefaultActor, order.History[0].ChangedBy)

	loaded, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, loaded.History, 1)
	assert.True(t, loaded.CreatedAt.Equal(clk.Now()))
}

func TestTransitionToDeliveredStampsDate(t *testing.T) {
	svc, _, clk, notifier := setupService(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, draftOrder(), "importer")
	require.NoError(t, err)

	for _, status := range []string{"CONFIRMED", "PICKED_UP", "IN_TRANSIT"} {
		clk.Advance(time.Minute)
		order, _, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: status})
		require.NoError(t, err)
		assert.Nil(t, order.DeliveryDate)
	}

	lat, lng := 52.37, 4.89
	reason := "left at door"
	clk.Advance(time.Hour)
	order, event, err := svc.Transition(ctx, order.ID, TransitionRequest{
		Status:    "DELIVERED",
		Reason:    &reason,
		Latitude:  &lat,
		Longitude: &lng,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveryDate)
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), *order.DeliveryDate)

	require.NotNil(t, event.FromStatus)
	assert.Equal(t, domain.OrderStatusInTransit, *event.FromStatus)
	require.NotNil(t, event.Location)
	assert.Equal(t, lat, event.Location.Latitude)
	assert.Equal(t, "left at door", *event.Reason)

	require.Len(t, order.History, 5)
	assert.Equal(t, 5, order.Version)
	assert.Len(t, notifier.events, 4)
}

func TestTransitionKeepsExistingDeliveryDate(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, draftOrder(), "")
	require.NoError(t, err)

	preset := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	order.Status = domain.OrderStatusInTransit
	order.DeliveryDate = &preset
	_, err = store.Orders().Update(ctx, order, order.Version)
	require.NoError(t, err)

	delivered, _, err := svc.Transition(ctx, order.ID, TransitionRequest{Status: "DELIVERED"})
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveryDate)
	assert.True(t, preset.Equal(*delivered.DeliveryDate))
}

func TestTransitionRejectionsLeaveOrderUntouched(t *testing.T) {
	svc, _, _, notifier := setupService(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, draftOrder(), "")
	require.NoError(t, err)
	order, _, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: "CANCELLED"})
	require.NoError(t, err)

	_, _, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: "CONFIRMED"})
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeInvalidTransition, te.Code)
	assert.Equal(t, domain.OrderStatusCancelled, te.From)

	_, _, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: "LOST"})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeUnknownStatus, te.Code)

	lat := 10.0
	_, _, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: "CONFIRMED", Latitude: &lat})
	assert.ErrorIs(t, err, ErrInvalidLocation)

	loaded, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, loaded.Status)
	assert.Len(t, loaded.History, 2)
	assert.Len(t, notifier.events, 1)
}

func TestTransitionSameStatusIsRejected(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, draftOrder(), "")
	require.NoError(t, err)

	_, _, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: "PENDING"})
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeInvalidTransition, te.Code)
}

func TestTransitionActorAndMissingOrder(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := auth.ContextWithActor(context.Background(), "dispatcher-7")

	order, err := svc.Create(ctx, draftOrder(), "")
	require.NoError(t, err)

	_, event, err := svc.Transition(ctx, order.ID, TransitionRequest{Status: "CONFIRMED"})
	require.NoError(t, err)
	assert.Equal(t, "dispatcher-7", event.ChangedBy)

	by := "courier-1"
	_, event, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: "PICKED_UP", UpdatedBy: &by})
	require.NoError(t, err)
	assert.Equal(t, "courier-1", event.ChangedBy)

	_, _, err = svc.Transition(ctx, uuid.New(), TransitionRequest{Status: "CONFIRMED"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTransitionLogsThroughRequestLogger(t *testing.T) {
	svc, _, _, _ := setupService(t)

	var buf bytes.Buffer
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = logging.ContextWithLogger(ctx, logging.New(&buf, "info", "text"))

	order, err := svc.Create(ctx, draftOrder(), "")
	require.NoError(t, err)
	_, _, err = svc.Transition(ctx, order.ID, TransitionRequest{Status: "confirmed"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "order status changed")
	assert.Contains(t, out, "request_id=req-42")
	assert.Contains(t, out, "order_id="+order.ID.String())
}
