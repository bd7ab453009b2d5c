package orderloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/repository"
)

type stubOrderRepo struct {
	repository.OrderRepository

	mu     sync.Mutex
	orders map[uuid.UUID]domain.Order
	calls  int
	err    error
}

func (s *stubOrderRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Order
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func TestLoadManyBatchesLookups(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	repo := &stubOrderRepo{orders: map[uuid.UUID]domain.Order{
		a: {ID: a, Status: domain.OrderStatusPending},
		b: {ID: b, Status: domain.OrderStatusDelivered},
	}}
	loader := NewOrderLoader(repo)

	found, err := loader.LoadMany(context.Background(), []uuid.UUID{a, b, uuid.New()})
	if err != nil {
		t.Fatalf("LoadMany returned error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(found))
	}
	if found[b].Status != domain.OrderStatusDelivered {
		t.Fatalf("unexpected status %s", found[b].Status)
	}
	if repo.calls != 1 {
		t.Fatalf("expected a single repository call, got %d", repo.calls)
	}
}

func TestLoadManyPropagatesErrors(t *testing.T) {
	repo := &stubOrderRepo{err: errors.New("db down")}
	loader := NewOrderLoader(repo)

	if _, err := loader.LoadMany(context.Background(), []uuid.UUID{uuid.New()}); err == nil {
		t.Fatal("expected error")
	}
}
