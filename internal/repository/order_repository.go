package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/bulkorders/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, idempotency_key, identity_basis, client_reference,
	sender_name, sender_phone, receiver_name, receiver_phone, receiver_address, receiver_city,
	package_count, package_weight, service_type, carrier, declared_value, cod_amount, notes,
	status, delivery_date, batch_id, version, created_at, updated_at`

type orderRepository struct {
	db DBTX
}

// NewOrderRepository wires an order repository on a pool or transaction.
func NewOrderRepository(db DBTX) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r.db == nil {
		return domain.Order{}, fmt.Errorf("order repository not initialized")
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		order.ID,
		order.IdempotencyKey,
		string(order.IdentityBasis),
		order.ClientReference,
		order.Sender.Name,
		order.Sender.Phone,
		order.Receiver.Name,
		order.Receiver.Phone,
		order.Receiver.Address,
		order.Receiver.City,
		order.PackageCount,
		numericFromFixed(order.PackageWeight),
		string(order.ServiceType),
		order.Carrier,
		nullableNumeric(order.DeclaredValue),
		nullableNumeric(order.CODAmount),
		order.Notes,
		string(order.Status),
		dateParam(order.DeliveryDate),
		order.BatchID,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Order, error) {
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ANY($1::uuid[])`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan order: %w", scanErr)
		}
		orders = append(orders, order)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", rowsErr)
	}
	return orders, nil
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int) (domain.Order, error) {
	order.Version = expectedVersion + 1
	tag, err := r.db.Exec(
		ctx,
		`UPDATE orders
		 SET status = $1, delivery_date = $2, version = $3, updated_at = $4
		 WHERE id = $5 AND version = $6`,
		string(order.Status),
		dateParam(order.DeliveryDate),
		order.Version,
		order.UpdatedAt,
		order.ID,
		expectedVersion,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, order.ID); getErr != nil {
			return domain.Order{}, getErr
		}
		return domain.Order{}, fmt.Errorf("order %s changed concurrently: %w", order.ID, ErrConflict)
	}
	return order, nil
}

func (r *orderRepository) AppendEvent(ctx context.Context, event domain.StatusEvent) error {
	var fromStatus *string
	if event.FromStatus != nil {
		s := string(*event.FromStatus)
		fromStatus = &s
	}
	var lat, lng *float64
	if event.Location != nil {
		lat, lng = &event.Location.Latitude, &event.Location.Longitude
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO order_status_events (id, order_id, from_status, to_status, changed_by, reason, notes, latitude, longitude, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID,
		event.OrderID,
		fromStatus,
		string(event.ToStatus),
		event.ChangedBy,
		event.Reason,
		event.Notes,
		lat,
		lng,
		event.At,
	)
	if err != nil {
		return fmt.Errorf("failed to append status event: %w", err)
	}
	return nil
}

func (r *orderRepository) ListEvents(ctx context.Context, orderID uuid.UUID) ([]domain.StatusEvent, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT id, order_id, from_status, to_status, changed_by, reason, notes, latitude, longitude, at
		 FROM order_status_events
		 WHERE order_id = $1
		 ORDER BY at, seq`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list status events: %w", err)
	}
	defer rows.Close()

	events := []domain.StatusEvent{}
	for rows.Next() {
		var (
			event      domain.StatusEvent
			fromStatus pgtype.Text
			toStatus   string
			lat, lng   pgtype.Float8
			at         pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&event.ID,
			&event.OrderID,
			&fromStatus,
			&toStatus,
			&event.ChangedBy,
			&event.Reason,
			&event.Notes,
			&lat,
			&lng,
			&at,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", scanErr)
		}

		event.ToStatus = domain.OrderStatus(toStatus)
		if fromStatus.Valid {
			event.FromStatus = domain.StatusPtr(domain.OrderStatus(fromStatus.String))
		}
		if lat.Valid && lng.Valid {
			event.Location = &domain.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		if at.Valid {
			event.At = at.Time
		}
		events = append(events, event)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate status events: %w", rowsErr)
	}
	return events, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order         domain.Order
		basis         string
		serviceType   string
		status        string
		weight        pgtype.Numeric
		declaredValue pgtype.Numeric
		codAmount     pgtype.Numeric
		deliveryDate  pgtype.Date
		batchID       pgtype.UUID
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
	)
	if err := row.Scan(
		&order.ID,
		&order.IdempotencyKey,
		&basis,
		&order.ClientReference,
		&order.Sender.Name,
		&order.Sender.Phone,
		&order.Receiver.Name,
		&order.Receiver.Phone,
		&order.Receiver.Address,
		&order.Receiver.City,
		&order.PackageCount,
		&weight,
		&serviceType,
		&order.Carrier,
		&declaredValue,
		&codAmount,
		&order.Notes,
		&status,
		&deliveryDate,
		&batchID,
		&order.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	var err error
	if order.PackageWeight, err = fixedFromNumeric(weight); err != nil {
		return domain.Order{}, fmt.Errorf("package_weight: %w", err)
	}
	if order.DeclaredValue, err = optionalFixed(declaredValue); err != nil {
		return domain.Order{}, fmt.Errorf("declared_value: %w", err)
	}
	if order.CODAmount, err = optionalFixed(codAmount); err != nil {
		return domain.Order{}, fmt.Errorf("cod_amount: %w", err)
	}

	order.IdentityBasis = domain.IdentityBasis(basis)
	order.ServiceType = domain.ServiceTier(serviceType)
	order.Status = domain.OrderStatus(status)
	if deliveryDate.Valid {
		d := deliveryDate.Time
		order.DeliveryDate = &d
	}
	if batchID.Valid {
		id := uuid.UUID(batchID.Bytes)
		order.BatchID = &id
	}
	if createdAt.Valid {
		order.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		order.UpdatedAt = updatedAt.Time
	}
	return order, nil
}

func dateParam(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}
