package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks the progress of an ingestion batch.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// IsValid checks if the batch status is one of the known values.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the batch can no longer change.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// RowStatus is the outcome of one ingested row.
type RowStatus string

const (
	RowStatusCreated          RowStatus = "CREATED"
	RowStatusFailedValidation RowStatus = "FAILED_VALIDATION"
	RowStatusSkippedDuplicate RowStatus = "SKIPPED_DUPLICATE"
)

// IdentityBasis records how an identity key was derived.
type IdentityBasis string

const (
	BasisClientReference IdentityBasis = "CLIENT_REFERENCE"
	BasisContentHash     IdentityBasis = "CONTENT_HASH"
)

// IdentityKey is the deduplication key of a row.
type IdentityKey struct {
	Value string        `json:"value"`
	Basis IdentityBasis `json:"basis"`
}

// RowError describes why a row could not be turned into an order.
type RowError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Batch is one uploaded file and its aggregate counts.
type Batch struct {
	ID             uuid.UUID   `json:"id"`
	SourceFileName string      `json:"sourceFileName"`
	SourceChecksum string      `json:"sourceChecksum"`
	Status         BatchStatus `json:"status"`
	TotalRows      int         `json:"totalRows"`
	CreatedCount   int         `json:"createdCount"`
	FailedCount    int         `json:"failedCount"`
	SkippedCount   int         `json:"skippedDuplicateCount"`
	ErrorMessage   *string     `json:"errorMessage,omitempty"`
	StartedAt      time.Time   `json:"startedAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	DurationMs     int64       `json:"processingDurationMs"`
}

// BatchCounts are the per-status totals written when a batch is finalized.
type BatchCounts struct {
	Total   int
	Created int
	Failed  int
	Skipped int
}

// Balanced reports whether every row is accounted for exactly once.
func (c BatchCounts) Balanced() bool {
	return c.Total == c.Created+c.Failed+c.Skipped
}

// NewBatch creates a batch in PROCESSING state.
func NewBatch(fileName, checksum string, startedAt time.Time) Batch {
	return Batch{
		ID:             uuid.New(),
		SourceFileName: fileName,
		SourceChecksum: checksum,
		Status:         BatchStatusProcessing,
		StartedAt:      startedAt,
	}
}

// RowOutcome is the persisted result of a non-duplicate row.
// IdentityKey is kept for every outcome, but only CREATED outcomes claim it
// in the duplicate index.
type RowOutcome struct {
	BatchID     uuid.UUID     `json:"batchId"`
	RowIndex    int           `json:"rowIndex"`
	IdentityKey string        `json:"identityKey"`
	Basis       IdentityBasis `json:"idempotencyBasis"`
	Status      RowStatus     `json:"status"`
	OrderID     *uuid.UUID    `json:"orderId"`
	Errors      []RowError    `json:"errorMessages"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	Status *BatchStatus
	Limit  int
	Offset int
}
