// Package core supervises the shop workers: it polls every shop on its own
// cadence, runs the orders through normalization and reconciliation and
// hands the resulting effects to the dispatcher.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ordersync/entity"
	"ordersync/internal/config"
	"ordersync/internal/lib/retry"
	"ordersync/internal/lib/sl"
	"ordersync/internal/reconcile"
	"ordersync/internal/services"
)

type Engine interface {
	Reconcile(ctx context.Context, shop reconcile.ShopPolicy, order *entity.Order) ([]entity.Effect, error)
	ReconcileBatch(ctx context.Context, shop reconcile.ShopPolicy, orders []*entity.Order, handle func([]entity.Effect)) int
	SweepRefunds(ctx context.Context, handle func([]entity.Effect)) error
}

type Normalizer interface {
	Normalize(source entity.Source, shop string, raw entity.RawOrder) (*entity.Order, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, effects []entity.Effect) error
	Redeliver(ctx context.Context) (int, error)
}

type Archive interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type Core struct {
	engine     Engine
	normalizer Normalizer
	dispatcher Dispatcher
	archive    Archive
	shops      map[string]*shopWorker
	order      []string

	interval     time.Duration
	window       time.Duration
	startJitter  time.Duration
	fetchTimeout time.Duration
	maxBatch     int
	maxOrderAge  time.Duration
	retry        retry.Policy
	cleanupEvery time.Duration

	authKey string
	keys    map[string]string
	keysMu  sync.RWMutex

	now func() time.Time
	log *slog.Logger
}

func New(log *slog.Logger, conf *config.Config) *Core {
	return &Core{
		shops:        make(map[string]*shopWorker),
		interval:     conf.Poll.Interval,
		window:       conf.Poll.Window,
		startJitter:  conf.Poll.StartJitter,
		fetchTimeout: conf.Poll.FetchTimeout,
		maxBatch:     conf.Poll.MaxBatch,
		maxOrderAge:  conf.Poll.MaxOrderAge,
		retry:        retry.Default().WithBudget(conf.Poll.RetryBudget),
		cleanupEvery: 12 * time.Hour,
		authKey:      conf.Listen.ApiKey,
		keys:         make(map[string]string),
		now:          time.Now,
		log:          log.With(sl.Module("core")),
	}
}

func (c *Core) SetEngine(engine Engine) {
	c.engine = engine
}

func (c *Core) SetNormalizer(normalizer Normalizer) {
	c.normalizer = normalizer
}

func (c *Core) SetDispatcher(dispatcher Dispatcher) {
	c.dispatcher = dispatcher
}

func (c *Core) SetArchive(archive Archive) {
	c.archive = archive
}

func (c *Core) SetAuthKey(key string) {
	c.authKey = key
}

// SetRetryPolicy replaces the fetch retry policy.
func (c *Core) SetRetryPolicy(policy retry.Policy) {
	c.retry = policy
}

// AddShop registers a shop worker; call before Run.
func (c *Core) AddShop(shop config.Shop, fetcher services.Fetcher) {
	if _, ok := c.shops[shop.Name]; !ok {
		c.order = append(c.order, shop.Name)
	}
	c.shops[shop.Name] = &shopWorker{
		conf: shop,
		policy: reconcile.ShopPolicy{
			Name:      shop.Name,
			Source:    entity.Source(shop.Source),
			Silent:    shop.Silent,
			Documents: shop.Documents,
		},
		fetcher:   fetcher,
		malformed: make(map[string]bool),
		log:       c.log.With(slog.String("shop", shop.Name)),
	}
}

// Run starts one worker per shop, the refund and redelivery worker and the
// archive cleanup, and blocks until ctx is done. Work in flight when ctx is
// cancelled is finished before Run returns.
func (c *Core) Run(ctx context.Context) error {
	if c.engine == nil || c.normalizer == nil || c.dispatcher == nil {
		return fmt.Errorf("core is not configured")
	}
	if len(c.shops) == 0 {
		return fmt.Errorf("no shops configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range c.order {
		w := c.shops[name]
		g.Go(func() error {
			c.runShop(ctx, w)
			return nil
		})
	}
	g.Go(func() error {
		c.every(ctx, c.interval, c.maintenance)
		return nil
	})
	if c.archive != nil {
		g.Go(func() error {
			c.every(ctx, c.cleanupEvery, c.cleanupArchive)
			return nil
		})
	}

	c.log.With(slog.Int("shops", len(c.shops))).Info("workers started")
	err := g.Wait()
	c.log.Info("workers stopped")
	return err
}

func (c *Core) runShop(ctx context.Context, w *shopWorker) {
	if c.startJitter > 0 && !sleep(ctx, time.Duration(rand.Int63n(int64(c.startJitter)))) {
		return
	}
	c.every(ctx, c.interval, func(ctx context.Context) {
		_ = c.PollShop(ctx, w.conf.Name)
	})
}

// every runs fn at once and then after each interval until ctx is done.
func (c *Core) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)
	for sleep(ctx, interval) {
		fn(ctx)
	}
}

// sleep waits for d and reports false when ctx was done first.
func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Core) worker(shop string) (*shopWorker, error) {
	w, ok := c.shops[shop]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownShop, shop)
	}
	return w, nil
}

// dispatch never sees a cancelled context: effects of a committed order are always delivered.
func (c *Core) dispatch(ctx context.Context) func([]entity.Effect) {
	ctx = context.WithoutCancel(ctx)
	return func(effects []entity.Effect) {
		if err := c.dispatcher.Dispatch(ctx, effects); err != nil {
			c.log.With(sl.Err(err)).Warn("effects not fully dispatched")
		}
	}
}

func (c *Core) maintenance(ctx context.Context) {
	if err := c.engine.SweepRefunds(context.WithoutCancel(ctx), c.dispatch(ctx)); err != nil {
		c.log.With(sl.Err(err)).Error("refund sweep")
	}
	if _, err := c.dispatcher.Redeliver(ctx); err != nil {
		c.log.With(sl.Err(err)).Error("outbox redelivery")
	}
}

func (c *Core) cleanupArchive(ctx context.Context) {
	deleted, err := c.archive.DeleteExpired(ctx)
	if err != nil {
		c.log.With(sl.Err(err)).Warn("failed to cleanup expired documents")
		return
	}
	if deleted > 0 {
		c.log.With(slog.Int64("deleted", deleted)).Info("expired documents removed")
	}
}
