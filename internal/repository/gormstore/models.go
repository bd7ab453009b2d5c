package gormstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/bulkorders/internal/domain"
)

// RowErrors is a custom GORM type for []domain.RowError stored as JSON.
type RowErrors []domain.RowError

// Scan implements the sql.Scanner interface for RowErrors.
func (e *RowErrors) Scan(value any) error {
	if value == nil {
		*e = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for RowErrors: %T", value)
	}
	return json.Unmarshal(bytes, e)
}

// Value implements the driver.Valuer interface for RowErrors.
func (e RowErrors) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// BatchRecord stores one ingestion batch.
type BatchRecord struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	SourceFileName string     `gorm:"column:source_file_name;not null"`
	SourceChecksum string     `gorm:"column:source_checksum;not null"`
	Status         string     `gorm:"column:status;index:idx_batches_status_started,priority:1;not null"`
	TotalRows      int        `gorm:"column:total_rows;not null;default:0"`
	CreatedCount   int        `gorm:"column:created_count;not null;default:0"`
	FailedCount    int        `gorm:"column:failed_count;not null;default:0"`
	SkippedCount   int        `gorm:"column:skipped_count;not null;default:0"`
	ErrorMessage   *string    `gorm:"column:error_message"`
	StartedAt      time.Time  `gorm:"column:started_at;index:idx_batches_status_started,priority:2;not null"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	DurationMs     int64      `gorm:"column:duration_ms;not null;default:0"`
}

// TableName overrides the GORM default.
func (BatchRecord) TableName() string { return "ingestion_batches" }

// RowRecord stores the outcome of one non-duplicate row. IdentityKey is only
// set for CREATED rows, so the unique index only guards created orders.
type RowRecord struct {
	BatchID       string    `gorm:"primaryKey;column:batch_id;type:varchar(36)"`
	RowIndex      int       `gorm:"primaryKey;column:row_index;autoIncrement:false"`
	IdentityKey   *string   `gorm:"column:identity_key;uniqueIndex:ingestion_rows_identity_key_uq"`
	AttemptedKey  string    `gorm:"column:attempted_key;not null"`
	IdentityBasis string    `gorm:"column:identity_basis;not null"`
	Status        string    `gorm:"column:status;not null"`
	OrderID       *string   `gorm:"column:order_id;type:varchar(36)"`
	Errors        RowErrors `gorm:"column:errors;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;index;not null"`
}

// TableName overrides the GORM default.
func (RowRecord) TableName() string { return "ingestion_rows" }

// OrderRecord stores an order. Money and weight columns hold hundredths.
type OrderRecord struct {
	ID                 string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	IdempotencyKey     string     `gorm:"column:idempotency_key;index;not null"`
	IdentityBasis      string     `gorm:"column:identity_basis;not null"`
	ClientReference    *string    `gorm:"column:client_reference"`
	SenderName         string     `gorm:"column:sender_name;not null"`
	SenderPhone        string     `gorm:"column:sender_phone;not null"`
	ReceiverName       string     `gorm:"column:receiver_name;not null"`
	ReceiverPhone      string     `gorm:"column:receiver_phone;not null"`
	ReceiverAddress    string     `gorm:"column:receiver_address;not null"`
	ReceiverCity       string     `gorm:"column:receiver_city;not null"`
	PackageCount       int        `gorm:"column:package_count;not null"`
	PackageWeightCents int64      `gorm:"column:package_weight_cents;not null"`
	ServiceType        string     `gorm:"column:service_type;not null"`
	Carrier            *string    `gorm:"column:carrier"`
	DeclaredValueCents *int64     `gorm:"column:declared_value_cents"`
	CODAmountCents     *int64     `gorm:"column:cod_amount_cents"`
	Notes              *string    `gorm:"column:notes"`
	Status             string     `gorm:"column:status;not null"`
	DeliveryDate       *time.Time `gorm:"column:delivery_date"`
	BatchID            *string    `gorm:"column:batch_id;type:varchar(36);index"`
	Version            int        `gorm:"column:version;not null"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null"`
}

// TableName overrides the GORM default.
func (OrderRecord) TableName() string { return "orders" }

// StatusEventRecord stores one append-only status history entry.
type StatusEventRecord struct {
	Seq        uint      `gorm:"primaryKey;column:seq;autoIncrement"`
	ID         string    `gorm:"column:id;type:varchar(36);uniqueIndex;not null"`
	OrderID    string    `gorm:"column:order_id;type:varchar(36);index:idx_events_order_at,priority:1;not null"`
	FromStatus *string   `gorm:"column:from_status"`
	ToStatus   string    `gorm:"column:to_status;not null"`
	ChangedBy  string    `gorm:"column:changed_by;not null"`
	Reason     *string   `gorm:"column:reason"`
	Notes      *string   `gorm:"column:notes"`
	Latitude   *float64  `gorm:"column:latitude"`
	Longitude  *float64  `gorm:"column:longitude"`
	At         time.Time `gorm:"column:at;index:idx_events_order_at,priority:2;not null"`
}

// TableName overrides the GORM default.
func (StatusEventRecord) TableName() string { return "order_status_events" }
