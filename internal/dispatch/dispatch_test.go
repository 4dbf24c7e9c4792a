package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersync/entity"
	"ordersync/internal/database/memory"
	"ordersync/internal/ledger"
	"ordersync/internal/outbox"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type notification struct {
	text       string
	recipients []int64
}

type fakeNotifier struct {
	sent []notification
	err  error
}

func (f *fakeNotifier) Notify(text string, recipients ...int64) error {
	f.sent = append(f.sent, notification{text: text, recipients: recipients})
	return f.err
}

type fakeWriter struct {
	written []string
	err     error
}

func (f *fakeWriter) Write(_ context.Context, entry *entity.OutboxEntry) error {
	if f.err != nil && !errors.Is(f.err, outbox.ErrArchiveWrite) {
		return f.err
	}
	f.written = append(f.written, entry.DocumentId)
	return f.err
}

type fakeArchive struct {
	saved []string
	err   error
}

func (f *fakeArchive) SaveDocumentVersion(_ context.Context, entry *entity.OutboxEntry) error {
	f.saved = append(f.saved, entry.DocumentId)
	return f.err
}

type fixture struct {
	dispatcher *Dispatcher
	ledger     *memory.Ledger
	notifier   *fakeNotifier
	writer     *fakeWriter
	archive    *fakeArchive
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   memory.New(),
		notifier: &fakeNotifier{},
		writer:   &fakeWriter{},
		archive:  &fakeArchive{},
	}
	d := New(f.writer, f.ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.now = func() time.Time { return testNow }
	d.SetNotifier(f.notifier)
	d.SetArchive(f.archive)
	d.SetRouting([]int64{1}, []int64{7}, "")
	d.SetRecipients("ukrstil-prom", []int64{10, 11})
	f.dispatcher = d
	return f
}

func (f *fixture) addEntry(t *testing.T, id string, created time.Time) *entity.OutboxEntry {
	t.Helper()
	entry := &entity.OutboxEntry{
		DocumentId: id,
		ExternalId: "100",
		Action:     entity.ActionCreateBuyerOrder,
		Payload:    []byte(`{}`),
		Created:    created,
	}
	require.NoError(t, f.ledger.InTx(context.Background(), func(tx ledger.Tx) error {
		return tx.AddOutbox(entry)
	}))
	return entry
}

// delivered reports whether an added entry left the pending outbox.
func (f *fixture) delivered(id string) bool {
	for _, e := range f.ledger.Entries() {
		if e.DocumentId == id {
			return e.Delivered != nil
		}
	}
	return true
}

func testOrder(status entity.Status) *entity.Order {
	return &entity.Order{
		Source:     entity.SourceProm,
		Shop:       "ukrstil-prom",
		ExternalId: "100",
		Status:     status,
		TotalPrice: decimal.RequireFromString("1200.50"),
		Buyer:      entity.Buyer{FullName: "Коваль Олена", Phone: "+380671234567"},
	}
}

func TestOrderText(t *testing.T) {
	tests := []struct {
		status   entity.Status
		expected string
	}{
		{entity.StatusNew, "НОВЫЙ заказ 100 на ukrstil-prom\nСумма: 1200.5 грн.\nКлиент: Коваль Олена \nТелефон: +380671234567"},
		{entity.StatusPaid, "НОВЫЙ ОПЛАЧЕННЫЙ заказ 100 на ukrstil-prom\nСумма: 1200.5 грн.\nКлиент: Коваль Олена \nТелефон: +380671234567"},
		{entity.StatusAccepted, "Принят заказ 100 на ukrstil-prom\nСумма: 1200.5 грн.\nКлиент: Коваль Олена \nТелефон: +380671234567"},
		{entity.StatusDispatched, "Принят заказ 100 на ukrstil-prom\nСумма: 1200.5 грн.\nКлиент: Коваль Олена \nТелефон: +380671234567"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, OrderText(testOrder(tt.status), "", "грн."))
		})
	}
}

func TestEmit_Notifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Emit(ctx, entity.Effect{Kind: entity.EffectNewOrder, Shop: "ukrstil-prom", Order: testOrder(entity.StatusNew)}))
	require.NoError(t, f.dispatcher.Emit(ctx, entity.Effect{Kind: entity.EffectAccepted, Shop: "other", Order: testOrder(entity.StatusAccepted)}))

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, []int64{10, 11}, f.notifier.sent[0].recipients)
	assert.Contains(t, f.notifier.sent[0].text, "НОВЫЙ заказ 100 на ukrstil-prom")
	assert.Equal(t, []int64{1}, f.notifier.sent[1].recipients, "managers when the shop has no recipients")
	assert.Contains(t, f.notifier.sent[1].text, "Принят заказ 100 на other")
}

func TestEmit_NotificationFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("telegram down")

	err := f.dispatcher.Emit(context.Background(), entity.Effect{Kind: entity.EffectNewOrder, Shop: "ukrstil-prom", Order: testOrder(entity.StatusNew)})
	assert.NoError(t, err)
}

func TestEmit_Finance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Emit(ctx, entity.Effect{
		Kind:   entity.EffectRefund,
		Refund: &entity.RefundQueueEntry{ExternalId: "100", Shop: "ukrstil-prom", CpaCommission: decimal.NewFromInt(50)},
	}))
	require.NoError(t, f.dispatcher.Emit(ctx, entity.Effect{
		Kind: entity.EffectCommission,
		Commission: &entity.CommissionChange{
			ExternalId: "100", Shop: "ukrstil-prom", Kind: entity.CommissionDelivery,
			Previous: decimal.NewFromInt(30), Amount: decimal.NewFromInt(40),
		},
	}))

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, []int64{7}, f.notifier.sent[0].recipients)
	assert.Equal(t, "Возврат комиссии по заказу 100 на ukrstil-prom\nСумма: 50 грн.", f.notifier.sent[0].text)
	assert.Equal(t, "Комиссия за доставку по заказу 100 на ukrstil-prom\nБыло: 30 грн.\nСтало: 40 грн.", f.notifier.sent[1].text)
}

func TestEmit_Malformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, effect := range []entity.Effect{
		{Kind: entity.EffectNewOrder},
		{Kind: entity.EffectRefund},
		{Kind: entity.EffectCommission},
		{Kind: entity.EffectDocument},
		{Kind: "unknown"},
	} {
		assert.Error(t, f.dispatcher.Emit(ctx, effect), effect.Kind)
	}
}

func TestEmit_Document(t *testing.T) {
	f := newFixture(t)
	entry := f.addEntry(t, "doc-1", testNow)

	require.NoError(t, f.dispatcher.Emit(context.Background(), entity.Effect{Kind: entity.EffectDocument, Entry: entry}))

	assert.Equal(t, []string{"doc-1"}, f.writer.written)
	assert.Equal(t, []string{"doc-1"}, f.archive.saved)
	assert.True(t, f.delivered("doc-1"))
}

func TestEmit_DocumentWriteFailure(t *testing.T) {
	f := newFixture(t)
	entry := f.addEntry(t, "doc-1", testNow)
	f.writer.err = errors.New("disk full")

	err := f.dispatcher.Emit(context.Background(), entity.Effect{Kind: entity.EffectDocument, Entry: entry})

	var dispatchErr *entity.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.True(t, entity.IsRetriable(err))
	assert.Empty(t, f.archive.saved)
	assert.False(t, f.delivered("doc-1"))
}

func TestEmit_DocumentArchiveFailures(t *testing.T) {
	f := newFixture(t)
	entry := f.addEntry(t, "doc-1", testNow)
	f.writer.err = fmt.Errorf("%w: doc-1", outbox.ErrArchiveWrite)
	f.archive.err = errors.New("mongo unavailable")

	require.NoError(t, f.dispatcher.Emit(context.Background(), entity.Effect{Kind: entity.EffectDocument, Entry: entry}))
	assert.True(t, f.delivered("doc-1"))
}

func TestEmit_DocumentUnknownEntry(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Emit(context.Background(), entity.Effect{
		Kind:  entity.EffectDocument,
		Entry: &entity.OutboxEntry{DocumentId: "missing", Created: testNow},
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDispatch_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Dispatch(context.Background(), []entity.Effect{
		{Kind: entity.EffectDocument},
		{Kind: entity.EffectNewOrder, Shop: "ukrstil-prom", Order: testOrder(entity.StatusNew)},
	})
	assert.Error(t, err)
	assert.Len(t, f.notifier.sent, 1)
}

func TestRedeliver(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.SetRedeliverAfter(10 * time.Minute)

	f.addEntry(t, "old", testNow.Add(-time.Hour))
	f.addEntry(t, "fresh", testNow.Add(-time.Minute))
	done := f.addEntry(t, "done", testNow.Add(-time.Hour))
	require.NoError(t, f.ledger.MarkDelivered(context.Background(), done.DocumentId, testNow.Add(-30*time.Minute)))

	n, err := f.dispatcher.Redeliver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"old"}, f.writer.written)
	assert.True(t, f.delivered("old"))
	assert.False(t, f.delivered("fresh"))

	n, err = f.dispatcher.Redeliver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
