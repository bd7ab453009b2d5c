package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/repository"
)

type orderStore struct {
	db *gorm.DB
}

func (s *orderStore) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	record := toOrderRecord(order)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

func (s *orderStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	var record OrderRecord
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, fmt.Errorf("order %s: %w", id, repository.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	return fromOrderRecord(record)
}

func (s *orderStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Order, error) {
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	var records []OrderRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", keys).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(records))
	for _, record := range records {
		order, err := fromOrderRecord(record)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (s *orderStore) Update(ctx context.Context, order domain.Order, expectedVersion int) (domain.Order, error) {
	order.Version = expectedVersion + 1
	result := s.db.WithContext(ctx).
		Model(&OrderRecord{}).
		Where("id = ? AND version = ?", order.ID.String(), expectedVersion).
		Updates(map[string]any{
			"status":        string(order.Status),
			"delivery_date": utcPtr(order.DeliveryDate),
			"version":       order.Version,
			"updated_at":    order.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetByID(ctx, order.ID); err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("order %s changed concurrently: %w", order.ID, repository.ErrConflict)
	}
	return order, nil
}

func (s *orderStore) AppendEvent(ctx context.Context, event domain.StatusEvent) error {
	record := StatusEventRecord{
		ID:        event.ID.String(),
		OrderID:   event.OrderID.String(),
		ToStatus:  string(event.ToStatus),
		ChangedBy: event.ChangedBy,
		Reason:    event.Reason,
		Notes:     event.Notes,
		At:        event.At.UTC(),
	}
	if event.FromStatus != nil {
		from := string(*event.FromStatus)
		record.FromStatus = &from
	}
	if event.Location != nil {
		lat, lng := event.Location.Latitude, event.Location.Longitude
		record.Latitude, record.Longitude = &lat, &lng
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("append status event: %w", err)
	}
	return nil
}

func (s *orderStore) ListEvents(ctx context.Context, orderID uuid.UUID) ([]domain.StatusEvent, error) {
	var records []StatusEventRecord
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID.String()).
		Order("at ASC").Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}

	events := make([]domain.StatusEvent, 0, len(records))
	for _, record := range records {
		event := domain.StatusEvent{
			ToStatus:  domain.OrderStatus(record.ToStatus),
			ChangedBy: record.ChangedBy,
			Reason:    record.Reason,
			Notes:     record.Notes,
			At:        record.At,
		}
		if event.ID, err = uuid.Parse(record.ID); err != nil {
			return nil, fmt.Errorf("status event id: %w", err)
		}
		if event.OrderID, err = uuid.Parse(record.OrderID); err != nil {
			return nil, fmt.Errorf("status event order id: %w", err)
		}
		if record.FromStatus != nil {
			event.FromStatus = domain.StatusPtr(domain.OrderStatus(*record.FromStatus))
		}
		if record.Latitude != nil && record.Longitude != nil {
			event.Location = &domain.GeoPoint{Latitude: *record.Latitude, Longitude: *record.Longitude}
		}
		events = append(events, event)
	}
	return events, nil
}

func toOrderRecord(order domain.Order) OrderRecord {
	record := OrderRecord{
		ID:                 order.ID.String(),
		IdempotencyKey:     order.IdempotencyKey,
		IdentityBasis:      string(order.IdentityBasis),
		ClientReference:    order.ClientReference,
		SenderName:         order.Sender.Name,
		SenderPhone:        order.Sender.Phone,
		ReceiverName:       order.Receiver.Name,
		ReceiverPhone:      order.Receiver.Phone,
		ReceiverAddress:    order.Receiver.Address,
		ReceiverCity:       order.Receiver.City,
		PackageCount:       order.PackageCount,
		PackageWeightCents: order.PackageWeight.Hundredths(),
		ServiceType:        string(order.ServiceType),
		Carrier:            order.Carrier,
		DeclaredValueCents: hundredthsPtr(order.DeclaredValue),
		CODAmountCents:     hundredthsPtr(order.CODAmount),
		Notes:              order.Notes,
		Status:             string(order.Status),
		DeliveryDate:       utcPtr(order.DeliveryDate),
		Version:            order.Version,
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
	if order.BatchID != nil {
		id := order.BatchID.String()
		record.BatchID = &id
	}
	return record
}

func fromOrderRecord(record OrderRecord) (domain.Order, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order id: %w", err)
	}
	order := domain.Order{
		ID:              id,
		IdempotencyKey:  record.IdempotencyKey,
		IdentityBasis:   domain.IdentityBasis(record.IdentityBasis),
		ClientReference: record.ClientReference,
		Sender:          domain.Party{Name: record.SenderName, Phone: record.SenderPhone},
		Receiver: domain.Party{
			Name:    record.ReceiverName,
			Phone:   record.ReceiverPhone,
			Address: record.ReceiverAddress,
			City:    record.ReceiverCity,
		},
		PackageCount:  record.PackageCount,
		PackageWeight: domain.Fixed2(record.PackageWeightCents),
		ServiceType:   domain.ServiceTier(record.ServiceType),
		Carrier:       record.Carrier,
		DeclaredValue: fixedPtr(record.DeclaredValueCents),
		CODAmount:     fixedPtr(record.CODAmountCents),
		Notes:         record.Notes,
		Status:        domain.OrderStatus(record.Status),
		DeliveryDate:  record.DeliveryDate,
		Version:       record.Version,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
	if record.BatchID != nil {
		batchID, err := uuid.Parse(*record.BatchID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order batch id: %w", err)
		}
		order.BatchID = &batchID
	}
	return order, nil
}

func hundredthsPtr(v *domain.Fixed2) *int64 {
	if v == nil {
		return nil
	}
	n := v.Hundredths()
	return &n
}

func fixedPtr(n *int64) *domain.Fixed2 {
	if n == nil {
		return nil
	}
	v := domain.Fixed2(*n)
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
