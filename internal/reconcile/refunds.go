package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"ordersync/entity"
	"ordersync/internal/ledger"
	"ordersync/internal/lib/sl"
)

// SweepRefunds emits a goods return for every queued refund whose goods
// receipt is recorded, deleting the entry in the same transaction. Entries
// without a receipt stay queued for the next sweep; entries without an
// amount are dropped.
func (e *Engine) SweepRefunds(ctx context.Context, handle func([]entity.Effect)) error {
	var pending []*entity.RefundQueueEntry
	err := e.store.InTx(ctx, func(tx ledger.Tx) error {
		var err error
		pending, err = tx.ListPendingRefunds()
		return err
	})
	if err != nil {
		return fmt.Errorf("list refunds: %w", err)
	}

	for _, entry := range pending {
		if !entry.CpaCommission.IsPositive() {
			e.dropRefund(ctx, entry)
			continue
		}
		effects, err := e.sweepRefund(ctx, entry)
		if err != nil {
			e.log.With(
				slog.String("order_id", entry.ExternalId),
				sl.Err(err),
			).Error("refund sweep")
			continue
		}
		if handle != nil && len(effects) > 0 {
			handle(effects)
		}
	}
	return nil
}

// dropRefund removes an entry with nothing to return; no receipt is ever
// recorded for a zero commission.
func (e *Engine) dropRefund(ctx context.Context, entry *entity.RefundQueueEntry) {
	log := e.log.With(
		slog.String("order_id", entry.ExternalId),
		slog.String("shop", entry.Shop),
		slog.String("amount", entry.CpaCommission.String()),
	)
	err := e.store.InTx(ctx, func(tx ledger.Tx) error {
		return tx.DeleteRefund(entry)
	})
	if err != nil {
		log.With(sl.Err(err)).Error("drop refund")
		return
	}
	log.Warn("refund without commission dropped")
}

func (e *Engine) sweepRefund(ctx context.Context, entry *entity.RefundQueueEntry) ([]entity.Effect, error) {
	var effects []entity.Effect
	err := e.store.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.GetDocument(entry.ExternalId, entity.DocumentGoodsReceipt)
		if notFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		w := &work{
			engine: e,
			tx:     tx,
			shop:   ShopPolicy{Name: entry.Shop},
			now:    e.now(),
		}
		doc := e.commissionDocument(entity.ActionCreateGoodsReturn, entity.DocumentGoodsReturn,
			entry.ExternalId, entry.ExternalId, "", entity.CommissionProduct(entity.CommissionCpa, entry.CpaCommission))
		doc.Supplier = fmt.Sprintf(e.supplierFormat, entry.Shop)
		if _, err = w.emit(doc, true); err != nil {
			return err
		}
		if err = tx.DeleteRefund(entry); err != nil {
			return err
		}
		effects = w.effects
		return nil
	})
	return effects, err
}
