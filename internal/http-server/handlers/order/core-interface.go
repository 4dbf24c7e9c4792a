package order

import "context"

type Core interface {
	ReconcileOrder(ctx context.Context, shop, id string) error
}
