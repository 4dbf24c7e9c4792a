// Package reconcile compares fetched orders with the ledger, applies the
// state transition rules and derives accounting documents. Each order is
// handled in its own ledger transaction; effects are returned for dispatch
// after the commit.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ordersync/entity"
	"ordersync/internal/config"
	"ordersync/internal/ledger"
	"ordersync/internal/lib/sl"
)

// ShopPolicy is the per-shop part of the configuration the engine needs.
type ShopPolicy struct {
	Name   string
	Source entity.Source
	// Silent suppresses new and accepted order notifications
	Silent bool
	// Documents is one of config.DocumentsNone, DocumentsDirect, DocumentsAccounting
	Documents string
}

type Engine struct {
	store          ledger.Store
	supplierFormat string
	manager        string
	now            func() time.Time
	newId          func() string
	log            *slog.Logger
}

func New(store ledger.Store, log *slog.Logger) *Engine {
	return &Engine{
		store:          store,
		supplierFormat: "Просейл %s",
		manager:        "Финансист",
		now:            time.Now,
		newId:          uuid.NewString,
		log:            log.With(sl.Module("reconcile")),
	}
}

// SetAccounting sets the supplier name format and the manager of commission documents.
func (e *Engine) SetAccounting(supplierFormat, manager string) {
	if supplierFormat != "" {
		e.supplierFormat = supplierFormat
	}
	if manager != "" {
		e.manager = manager
	}
}

// Reconcile applies one observation of an order to the ledger.
func (e *Engine) Reconcile(ctx context.Context, shop ShopPolicy, order *entity.Order) ([]entity.Effect, error) {
	return e.reconcile(ctx, shop, order, nil)
}

// ReconcileBatch processes orders in source order. Per-order failures are
// logged and skipped; handle receives the effects of every committed order.
// It returns the number of failed orders.
func (e *Engine) ReconcileBatch(ctx context.Context, shop ShopPolicy, orders []*entity.Order, handle func([]entity.Effect)) int {
	var children map[string][]entity.Product
	if shop.Documents == config.DocumentsAccounting {
		children = childProducts(orders)
	}

	failed := 0
	for _, order := range orders {
		effects, err := e.reconcile(ctx, shop, order, children[order.ExternalId])
		if err != nil {
			failed++
			e.log.With(
				slog.String("shop", shop.Name),
				slog.String("order_id", order.ExternalId),
				sl.Err(err),
			).Error("reconcile order")
			continue
		}
		if handle != nil && len(effects) > 0 {
			handle(effects)
		}
	}
	return failed
}

func (e *Engine) reconcile(ctx context.Context, shop ShopPolicy, order *entity.Order, children []entity.Product) ([]entity.Effect, error) {
	if order.Source != shop.Source {
		return nil, fmt.Errorf("order %s from %s reconciled as %s", order.ExternalId, order.Source, shop.Source)
	}

	var effects []entity.Effect
	err := e.store.InTx(ctx, func(tx ledger.Tx) error {
		w := &work{
			engine:   e,
			tx:       tx,
			shop:     shop,
			order:    order,
			children: children,
			now:      e.now(),
		}
		if err := w.run(); err != nil {
			return err
		}
		effects = w.effects
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", order.ExternalId, err)
	}
	return effects, nil
}

// work is the state of one order reconciliation inside a transaction.
type work struct {
	engine   *Engine
	tx       ledger.Tx
	shop     ShopPolicy
	order    *entity.Order
	children []entity.Product
	now      time.Time
	effects  []entity.Effect
}

func (w *work) run() error {
	order := w.order

	row, err := w.tx.GetOrder(order.Source, order.ExternalId)
	created := false
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		row = entity.NewLedgerRow(order, w.now)
		created = true
		w.notify(entity.EffectNewOrder)
	case err != nil:
		return fmt.Errorf("get order: %w", err)
	}

	changed := created
	latched := created && row.CpaCommission.IsPositive()

	if !created {
		if !row.Accepted && order.Status.IsAccepted() {
			row.Accepted = true
			changed = true
			w.notify(entity.EffectAccepted)
		}
		if row.Status != order.Status {
			row.Status = order.Status
			changed = true
		}
		if row.CpaCommission.IsZero() && order.CpaCommission.IsPositive() {
			row.CpaCommission = order.CpaCommission
			changed = true
			latched = true
		}
	}

	if order.CpaRefunded && !row.CpaRefunded {
		row.CpaRefunded = true
		changed = true
		if err = w.enqueueRefund(row); err != nil {
			return err
		}
	}

	if order.Status == entity.StatusSuccess {
		for _, kind := range []entity.CommissionKind{entity.CommissionDelivery, entity.CommissionOrder} {
			first, err := w.updateCommission(row, kind)
			if err != nil {
				return err
			}
			changed = changed || first != nil
			latched = latched || (first != nil && *first)
		}
	}

	if changed {
		row.Updated = w.now
		if err = w.tx.UpsertOrder(row); err != nil {
			return err
		}
	}

	switch w.shop.Documents {
	case config.DocumentsDirect:
		if created || latched {
			return w.directDocuments(row)
		}
	case config.DocumentsAccounting:
		return w.accountingDocuments()
	}
	return nil
}

func (w *work) notify(kind entity.EffectKind) {
	if w.shop.Silent {
		return
	}
	w.effects = append(w.effects, entity.Effect{Kind: kind, Shop: w.shop.Name, Order: w.order})
}

func (w *work) enqueueRefund(row *entity.LedgerRow) error {
	entry := &entity.RefundQueueEntry{
		ExternalId:    row.ExternalId,
		Shop:          row.Shop,
		CpaCommission: row.CpaCommission,
		Created:       w.now,
	}
	if err := w.tx.EnqueueRefund(entry); err != nil {
		return err
	}
	w.effects = append(w.effects, entity.Effect{
		Kind:   entity.EffectRefund,
		Shop:   w.shop.Name,
		Order:  w.order,
		Refund: entry,
	})
	return nil
}

// updateCommission stores a changed delivery or order commission. The result
// is nil when nothing changed, otherwise whether the stored value was zero.
func (w *work) updateCommission(row *entity.LedgerRow, kind entity.CommissionKind) (*bool, error) {
	stored, reported := &row.DeliveryCommission, w.order.DeliveryCommission
	if kind == entity.CommissionOrder {
		stored, reported = &row.OrderCommission, w.order.OrderCommission
	}
	if !reported.IsPositive() || reported.Equal(*stored) {
		return nil, nil
	}

	change := &entity.CommissionChange{
		ExternalId: row.ExternalId,
		Shop:       row.Shop,
		Kind:       kind,
		Previous:   *stored,
		Amount:     reported,
		Created:    w.now,
	}
	first := stored.IsZero()
	*stored = reported
	if err := w.tx.EnqueueCommission(change); err != nil {
		return nil, err
	}
	w.effects = append(w.effects, entity.Effect{
		Kind:       entity.EffectCommission,
		Shop:       w.shop.Name,
		Order:      w.order,
		Commission: change,
	})
	return &first, nil
}

// childProducts collects, per parent order id, the products of its child
// orders in the same batch whose SKUs the parent does not have yet.
func childProducts(orders []*entity.Order) map[string][]entity.Product {
	byId := make(map[string]*entity.Order, len(orders))
	for _, o := range orders {
		byId[o.ExternalId] = o
	}

	result := make(map[string][]entity.Product)
	seen := make(map[string]map[string]bool)
	for _, child := range orders {
		if child.Accounting == nil || child.Accounting.ParentId == "" {
			continue
		}
		parentId := child.Accounting.ParentId
		parent, ok := byId[parentId]
		if !ok {
			continue
		}
		skus, ok := seen[parentId]
		if !ok {
			skus = make(map[string]bool)
			for _, p := range parent.Products {
				skus[p.Sku] = true
			}
			seen[parentId] = skus
		}
		for _, p := range child.Products {
			if skus[p.Sku] {
				continue
			}
			skus[p.Sku] = true
			result[parentId] = append(result[parentId], p)
		}
	}
	return result
}
