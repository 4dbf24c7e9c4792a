package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ordersync/entity"
	"ordersync/internal/config"
	"ordersync/internal/lib/sl"
	"ordersync/internal/normalize"
	"ordersync/internal/reconcile"
	"ordersync/internal/services"
)

type shopWorker struct {
	conf    config.Shop
	policy  reconcile.ShopPolicy
	fetcher services.Fetcher
	log     *slog.Logger

	mu sync.Mutex
	// malformed holds the ids already reported as malformed
	malformed map[string]bool
}

// PollShop runs one cycle for a shop: fetch the window, normalize, reconcile
// and dispatch. A failed fetch abandons the cycle.
func (c *Core) PollShop(ctx context.Context, shop string) error {
	w, err := c.worker(shop)
	if err != nil {
		return err
	}

	t := time.Now()
	now := c.now()
	var raw []entity.RawOrder
	err = c.withRetry(ctx, w, "fetch orders", func(ctx context.Context) error {
		var err error
		raw, err = w.fetcher.FetchOrders(ctx, now.Add(-c.window), now)
		return err
	})
	if err != nil {
		w.log.With(sl.Err(err)).Error("poll cycle abandoned")
		return err
	}

	if c.maxBatch > 0 && len(raw) > c.maxBatch {
		w.log.With(
			slog.Int("size", len(raw)),
			slog.Int("max", c.maxBatch),
		).Error("batch exceeds maximum size")
	}

	orders := c.normalizeBatch(w, raw, now)
	failed := c.engine.ReconcileBatch(context.WithoutCancel(ctx), w.policy, orders, c.dispatch(ctx))

	w.log.With(
		slog.Int("fetched", len(raw)),
		slog.Int("reconciled", len(orders)-failed),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(t)),
	).Debug("poll cycle")
	return nil
}

// ReconcileOrder fetches one order and runs it through the poll path.
func (c *Core) ReconcileOrder(ctx context.Context, shop, id string) error {
	w, err := c.worker(shop)
	if err != nil {
		return err
	}

	var raw entity.RawOrder
	err = c.withRetry(ctx, w, "fetch order", func(ctx context.Context) error {
		var err error
		raw, err = w.fetcher.FetchOrder(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", id, err)
	}

	order, err := c.normalizer.Normalize(w.policy.Source, w.conf.Name, raw)
	if err != nil {
		return err
	}
	effects, err := c.engine.Reconcile(context.WithoutCancel(ctx), w.policy, order)
	if err != nil {
		return err
	}
	c.dispatch(ctx)(effects)
	return nil
}

// withRetry runs a source call under the retry policy, each attempt with its own timeout.
func (c *Core) withRetry(ctx context.Context, w *shopWorker, what string, fn func(ctx context.Context) error) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
			defer cancel()
		}
		return fn(ctx)
	}, func(err error, wait time.Duration) {
		w.log.With(
			sl.Err(err),
			slog.Duration("retry_in", wait),
		).Warn(what)
	})
}

func (c *Core) normalizeBatch(w *shopWorker, raw []entity.RawOrder, now time.Time) []*entity.Order {
	orders := make([]*entity.Order, 0, len(raw))
	for _, r := range raw {
		order, err := c.normalizer.Normalize(w.policy.Source, w.conf.Name, r)
		if err != nil {
			w.reportMalformed(normalize.ExternalId(w.policy.Source, r), err)
			continue
		}
		w.clearMalformed(order.ExternalId)

		if len(order.Warnings) > 0 {
			w.log.With(
				slog.String("order_id", order.ExternalId),
				slog.Any("warnings", order.Warnings),
			).Warn("order normalized with warnings")
		}
		if c.maxOrderAge > 0 && !order.Created.IsZero() && order.Created.Before(now.Add(-c.maxOrderAge)) {
			continue
		}
		orders = append(orders, order)
	}
	return orders
}

// reportMalformed logs a malformed record once per external id.
func (w *shopWorker) reportMalformed(externalId string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.malformed[externalId] {
		return
	}
	w.malformed[externalId] = true

	var malformed *entity.MalformedOrder
	msg := "normalize order"
	if errors.As(err, &malformed) {
		msg = "malformed order skipped"
	}
	w.log.With(
		slog.String("order_id", externalId),
		sl.Err(err),
	).Error(msg)
}

func (w *shopWorker) clearMalformed(externalId string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.malformed, externalId)
}
