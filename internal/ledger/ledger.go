// Package ledger defines the durable order state used for deduplication and
// transition detection. Every mutation happens inside a caller-supplied
// transaction.
package ledger

import (
	"context"
	"errors"
	"time"

	"ordersync/entity"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	// InTx runs fn in one transaction; an error from fn rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	// GetOrder returns ErrNotFound when the order is not tracked yet.
	GetOrder(source entity.Source, externalId string) (*entity.LedgerRow, error)
	// FindOrder looks up a marketplace row by id across sources.
	FindOrder(externalId string) (*entity.LedgerRow, error)
	UpsertOrder(row *entity.LedgerRow) error

	EnqueueRefund(entry *entity.RefundQueueEntry) error
	ListPendingRefunds() ([]*entity.RefundQueueEntry, error)
	DeleteRefund(entry *entity.RefundQueueEntry) error

	EnqueueCommission(change *entity.CommissionChange) error

	// GetDocument returns ErrNotFound when no document of that type was emitted.
	GetDocument(externalId string, docType entity.DocumentType) (*entity.DocumentRecord, error)
	// DocumentExists reports whether any document was emitted under the id.
	DocumentExists(externalId string) (bool, error)
	// InsertDocument is a no-op returning false when the (id, type) pair exists.
	InsertDocument(rec *entity.DocumentRecord) (bool, error)
	UpdateDocument(rec *entity.DocumentRecord) error

	AddOutbox(entry *entity.OutboxEntry) error
}

// Outbox is used by the dispatcher outside of reconciliation transactions.
type Outbox interface {
	MarkDelivered(ctx context.Context, documentId string, at time.Time) error
	ListUndelivered(ctx context.Context, before time.Time, limit int) ([]*entity.OutboxEntry, error)
}
