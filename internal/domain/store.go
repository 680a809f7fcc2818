package domain

import (
	"context"

	"github.com/google/uuid"
)

// Store is the port for durable call persistence. A given id occupies at most
// one of the two partitions (deliveries, raw calls) at any time; together they
// form the dedup index the pipeline relies on. Implementations live in
// infrastructure/postgres and must make concurrent row-level mutation safe —
// the store is shared between the long-lived ingestor and request handlers.
type Store interface {
	// Exists reports whether id is present in either partition.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)

	// SaveRaw inserts a RawRecord for a notification that failed decryption.
	// Returns ErrConflict if the id is already present.
	SaveRaw(ctx context.Context, n Notification) error

	// SaveDelivery inserts a DeliveryRecord with delivered=false and no error.
	// Returns ErrConflict if the id is already present.
	SaveDelivery(ctx context.Context, n Notification, call DecodedCall) error

	// MarkDelivered sets delivered=true and clears the error.
	MarkDelivered(ctx context.Context, id uuid.UUID) error

	// MarkFailed records the last forwarding failure, leaving delivered as is.
	MarkFailed(ctx context.Context, id uuid.UUID, errText string) error

	// Get fetches a single DeliveryRecord. Returns ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*DeliveryRecord, error)

	// ListPending returns all DeliveryRecords with delivered=false.
	ListPending(ctx context.Context) ([]*DeliveryRecord, error)

	// ListRaw returns all RawRecords.
	ListRaw(ctx context.Context) ([]*RawRecord, error)

	// Delete removes the row from whichever partition holds id.
	Delete(ctx context.Context, id uuid.UUID) error
}
