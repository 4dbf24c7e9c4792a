// Package dispatch executes reconciliation effects after commit: order
// notifications, finance messages and delivery of outbox documents.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ordersync/entity"
	"ordersync/internal/ledger"
	"ordersync/internal/lib/sl"
	"ordersync/internal/outbox"
)

type Notifier interface {
	Notify(text string, recipients ...int64) error
}

type DocumentWriter interface {
	Write(ctx context.Context, entry *entity.OutboxEntry) error
}

// Archive keeps the history of delivered documents.
type Archive interface {
	SaveDocumentVersion(ctx context.Context, entry *entity.OutboxEntry) error
}

type Dispatcher struct {
	writer         DocumentWriter
	outbox         ledger.Outbox
	notifier       Notifier
	archive        Archive
	recipients     map[string][]int64
	managers       []int64
	finance        []int64
	currency       string
	redeliverAfter time.Duration
	redeliverLimit int
	now            func() time.Time
	log            *slog.Logger
}

func New(writer DocumentWriter, store ledger.Outbox, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		writer:         writer,
		outbox:         store,
		recipients:     make(map[string][]int64),
		currency:       "грн.",
		redeliverAfter: 10 * time.Minute,
		redeliverLimit: 100,
		now:            time.Now,
		log:            log.With(sl.Module("dispatch")),
	}
}

func (d *Dispatcher) SetNotifier(notifier Notifier) {
	d.notifier = notifier
}

func (d *Dispatcher) SetArchive(archive Archive) {
	d.archive = archive
}

// SetRecipients sets the chats notified about orders of a shop.
func (d *Dispatcher) SetRecipients(shop string, recipients []int64) {
	d.recipients[shop] = recipients
}

// SetRouting sets the default order recipients, the finance recipients and the currency label.
func (d *Dispatcher) SetRouting(managers, finance []int64, currency string) {
	d.managers = managers
	d.finance = finance
	if currency != "" {
		d.currency = currency
	}
}

func (d *Dispatcher) SetRedeliverAfter(after time.Duration) {
	if after > 0 {
		d.redeliverAfter = after
	}
}

// Dispatch emits every effect; a failed effect does not stop the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, effects []entity.Effect) error {
	var errs []error
	for _, effect := range effects {
		if err := d.Emit(ctx, effect); err != nil {
			d.log.With(
				slog.String("shop", effect.Shop),
				slog.String("effect", string(effect.Kind)),
				sl.Err(err),
			).Error("dispatch effect")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) Emit(ctx context.Context, effect entity.Effect) error {
	switch effect.Kind {
	case entity.EffectNewOrder, entity.EffectAccepted:
		if effect.Order == nil {
			return fmt.Errorf("%s without order", effect.Kind)
		}
		text := OrderText(effect.Order, effect.Shop, d.currency)
		d.log.With(slog.String("shop", effect.Shop)).Info(strings.ReplaceAll(text, "\n", " "))
		return d.notify(text, d.orderRecipients(effect.Shop))
	case entity.EffectRefund:
		if effect.Refund == nil {
			return fmt.Errorf("%s without refund entry", effect.Kind)
		}
		text := RefundText(effect.Refund, d.currency)
		d.log.With(
			slog.String("shop", effect.Refund.Shop),
			slog.String("order_id", effect.Refund.ExternalId),
		).Info("refund queued")
		return d.notify(text, d.finance)
	case entity.EffectCommission:
		if effect.Commission == nil {
			return fmt.Errorf("%s without commission change", effect.Kind)
		}
		text := CommissionText(effect.Commission, d.currency)
		d.log.With(
			slog.String("shop", effect.Commission.Shop),
			slog.String("order_id", effect.Commission.ExternalId),
			slog.String("kind", string(effect.Commission.Kind)),
			slog.String("amount", effect.Commission.Amount.String()),
		).Info("commission changed")
		return d.notify(text, d.finance)
	case entity.EffectDocument:
		if effect.Entry == nil {
			return fmt.Errorf("%s without outbox entry", effect.Kind)
		}
		return d.deliver(ctx, effect.Entry)
	}
	return fmt.Errorf("unknown effect %q", effect.Kind)
}

func (d *Dispatcher) orderRecipients(shop string) []int64 {
	if recipients := d.recipients[shop]; len(recipients) > 0 {
		return recipients
	}
	return d.managers
}

// notify is fire-and-forget: delivery failures are logged, never returned.
func (d *Dispatcher) notify(text string, recipients []int64) error {
	if d.notifier == nil || len(recipients) == 0 {
		return nil
	}
	if err := d.notifier.Notify(text, recipients...); err != nil {
		d.log.Warn("notification", sl.Err(err))
	}
	return nil
}

// deliver hands the entry to the accounting directories and marks it delivered.
// Until then the entry stays in the outbox and Redeliver picks it up.
func (d *Dispatcher) deliver(ctx context.Context, entry *entity.OutboxEntry) error {
	log := d.log.With(
		slog.String("document_id", entry.DocumentId),
		slog.String("external_id", entry.ExternalId),
		slog.String("action", entry.Action),
	)

	err := d.writer.Write(ctx, entry)
	switch {
	case errors.Is(err, outbox.ErrArchiveWrite):
		log.Error("archive copy", sl.Err(err))
	case err != nil:
		return &entity.DispatchError{Target: "outbox " + entry.ExternalId, Err: err}
	}

	if d.archive != nil {
		if err = d.archive.SaveDocumentVersion(ctx, entry); err != nil {
			log.Warn("archive document version", sl.Err(err))
		}
	}

	if err = d.outbox.MarkDelivered(ctx, entry.DocumentId, d.now()); err != nil {
		return &entity.DispatchError{Target: "ledger " + entry.DocumentId, Err: err}
	}
	log.Debug("document delivered")
	return nil
}

// Redeliver resends outbox entries left undelivered for longer than the
// grace period. It returns the number of delivered entries.
func (d *Dispatcher) Redeliver(ctx context.Context) (int, error) {
	entries, err := d.outbox.ListUndelivered(ctx, d.now().Add(-d.redeliverAfter), d.redeliverLimit)
	if err != nil {
		return 0, fmt.Errorf("list undelivered: %w", err)
	}

	delivered := 0
	var errs []error
	for _, entry := range entries {
		if err = ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err = d.deliver(ctx, entry); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		d.log.With(slog.Int("count", delivered)).Info("redelivered documents")
	}
	return delivered, errors.Join(errs...)
}
