// Package memory is a transactional in-memory ledger. A transaction works on
// a copy of the state which replaces the committed one only when fn succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ordersync/entity"
	"ordersync/internal/ledger"
)

type orderKey struct {
	source entity.Source
	id     string
}

type documentKey struct {
	id      string
	docType entity.DocumentType
}

type state struct {
	orders      map[orderKey]entity.LedgerRow
	refunds     map[string]entity.RefundQueueEntry
	commissions []entity.CommissionChange
	documents   map[documentKey]entity.DocumentRecord
	outbox      map[string]entity.OutboxEntry
	mutations   int
}

func newState() *state {
	return &state{
		orders:    make(map[orderKey]entity.LedgerRow),
		refunds:   make(map[string]entity.RefundQueueEntry),
		documents: make(map[documentKey]entity.DocumentRecord),
		outbox:    make(map[string]entity.OutboxEntry),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	c.commissions = append(c.commissions, s.commissions...)
	for k, v := range s.documents {
		c.documents[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	c.mutations = s.mutations
	return c
}

type Ledger struct {
	mu    sync.Mutex
	state *state
}

func New() *Ledger {
	return &Ledger{state: newState()}
}

// InTx holds the ledger lock for the whole transaction, so transactions are serialized.
func (l *Ledger) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	work := l.state.clone()
	if err := fn(&tx{state: work}); err != nil {
		return err
	}
	l.state = work
	return nil
}

// MarkDelivered drops the entry: the memory ledger keeps only pending work.
func (l *Ledger) MarkDelivered(_ context.Context, documentId string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.state.outbox[documentId]; !ok {
		return fmt.Errorf("outbox entry %s: %w", documentId, ledger.ErrNotFound)
	}
	delete(l.state.outbox, documentId)
	return nil
}

func (l *Ledger) ListUndelivered(_ context.Context, before time.Time, limit int) ([]*entity.OutboxEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []*entity.OutboxEntry
	for _, e := range l.state.outbox {
		if e.Delivered == nil && e.Created.Before(before) {
			entry := e
			entries = append(entries, &entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Created.Before(entries[j].Created)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Order returns a copy of the committed row.
func (l *Ledger) Order(source entity.Source, externalId string) (entity.LedgerRow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.state.orders[orderKey{source, externalId}]
	return row, ok
}

func (l *Ledger) Refunds() []entity.RefundQueueEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	refunds := make([]entity.RefundQueueEntry, 0, len(l.state.refunds))
	for _, r := range l.state.refunds {
		refunds = append(refunds, r)
	}
	sort.Slice(refunds, func(i, j int) bool { return refunds[i].ExternalId < refunds[j].ExternalId })
	return refunds
}

func (l *Ledger) Commissions() []entity.CommissionChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entity.CommissionChange(nil), l.state.commissions...)
}

func (l *Ledger) Document(externalId string, docType entity.DocumentType) (entity.DocumentRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.state.documents[documentKey{externalId, docType}]
	return rec, ok
}

func (l *Ledger) Entries() []entity.OutboxEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]entity.OutboxEntry, 0, len(l.state.outbox))
	for _, e := range l.state.outbox {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Created.Before(entries[j].Created) })
	return entries
}

// Mutations counts committed writes; a transaction that changes nothing leaves it as is.
func (l *Ledger) Mutations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.mutations
}

type tx struct {
	state *state
}

func (t *tx) GetOrder(source entity.Source, externalId string) (*entity.LedgerRow, error) {
	row, ok := t.state.orders[orderKey{source, externalId}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &row, nil
}

func (t *tx) FindOrder(externalId string) (*entity.LedgerRow, error) {
	var found *entity.LedgerRow
	for k, row := range t.state.orders {
		if k.id != externalId || k.source == entity.SourceKeyCrm {
			continue
		}
		if found == nil || row.Created.After(found.Created) {
			r := row
			found = &r
		}
	}
	if found == nil {
		return nil, ledger.ErrNotFound
	}
	return found, nil
}

func (t *tx) UpsertOrder(row *entity.LedgerRow) error {
	key := orderKey{row.Source, row.ExternalId}
	next := *row
	if prev, ok := t.state.orders[key]; ok {
		next.Accepted = next.Accepted || prev.Accepted
		next.CpaRefunded = next.CpaRefunded || prev.CpaRefunded
		next.Created = prev.Created
	}
	t.state.orders[key] = next
	t.state.mutations++
	return nil
}

func (t *tx) EnqueueRefund(entry *entity.RefundQueueEntry) error {
	if _, ok := t.state.refunds[entry.ExternalId]; ok {
		return nil
	}
	t.state.refunds[entry.ExternalId] = *entry
	t.state.mutations++
	return nil
}

func (t *tx) ListPendingRefunds() ([]*entity.RefundQueueEntry, error) {
	refunds := make([]*entity.RefundQueueEntry, 0, len(t.state.refunds))
	for _, r := range t.state.refunds {
		entry := r
		refunds = append(refunds, &entry)
	}
	sort.Slice(refunds, func(i, j int) bool {
		if refunds[i].Created.Equal(refunds[j].Created) {
			return refunds[i].ExternalId < refunds[j].ExternalId
		}
		return refunds[i].Created.Before(refunds[j].Created)
	})
	return refunds, nil
}

func (t *tx) DeleteRefund(entry *entity.RefundQueueEntry) error {
	if _, ok := t.state.refunds[entry.ExternalId]; !ok {
		return nil
	}
	delete(t.state.refunds, entry.ExternalId)
	t.state.mutations++
	return nil
}

func (t *tx) EnqueueCommission(change *entity.CommissionChange) error {
	t.state.commissions = append(t.state.commissions, *change)
	t.state.mutations++
	return nil
}

func (t *tx) GetDocument(externalId string, docType entity.DocumentType) (*entity.DocumentRecord, error) {
	rec, ok := t.state.documents[documentKey{externalId, docType}]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &rec, nil
}

func (t *tx) DocumentExists(externalId string) (bool, error) {
	for k := range t.state.documents {
		if k.id == externalId {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertDocument(rec *entity.DocumentRecord) (bool, error) {
	key := documentKey{rec.ExternalId, rec.DocumentType}
	if _, ok := t.state.documents[key]; ok {
		return false, nil
	}
	t.state.documents[key] = *rec
	t.state.mutations++
	return true, nil
}

func (t *tx) UpdateDocument(rec *entity.DocumentRecord) error {
	key := documentKey{rec.ExternalId, rec.DocumentType}
	if _, ok := t.state.documents[key]; !ok {
		return fmt.Errorf("document %s %s: %w", rec.ExternalId, rec.DocumentType, ledger.ErrNotFound)
	}
	t.state.documents[key] = *rec
	t.state.mutations++
	return nil
}

func (t *tx) AddOutbox(entry *entity.OutboxEntry) error {
	if _, ok := t.state.outbox[entry.DocumentId]; ok {
		return fmt.Errorf("outbox entry %s already exists", entry.DocumentId)
	}
	t.state.outbox[entry.DocumentId] = *entry
	t.state.mutations++
	return nil
}
