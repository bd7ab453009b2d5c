package orderloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

const batchWait = 2 * time.Millisecond

// OrderLoader coalesces order lookups made while serving one request.
type OrderLoader struct {
	Loader *dataloader.Loader
}

func NewOrderLoader(repo repository.OrderRepository) *OrderLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		ids := make([]uuid.UUID, 0, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: fmt.Errorf("invalid order id %q: %w", k.String(), err)}
				continue
			}
			ids = append(ids, id)
		}

		orders, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			for i := range results {
				if results[i] == nil {
					results[i] = &dataloader.Result{Error: err}
				}
			}
			return results
		}

		byID := make(map[uuid.UUID]domain.Order, len(orders))
		for _, o := range orders {
			byID[o.ID] = o
		}

		// Results must line up with keys; unknown ids resolve to nil.
		for i, k := range keys {
			if results[i] != nil {
				continue
			}
			id := uuid.MustParse(k.String())
			if o, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: o}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(batchWait))
	return &OrderLoader{Loader: loader}
}

// LoadMany resolves ids in one batch. Orders that do not exist are absent from
// the returned map.
func (l *OrderLoader) LoadMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Order, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]domain.Order{}, nil
	}
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}

	values, errs := l.Loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	found := make(map[uuid.UUID]domain.Order, len(values))
	for _, v := range values {
		if o, ok := v.(domain.Order); ok {
			found[o.ID] = o
		}
	}
	return found, nil
}
