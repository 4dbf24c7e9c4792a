package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ordersync/entity"
	"ordersync/internal/config"
)

const (
	promBaseUrl    = "https://my.prom.ua/api/v1"
	promPageLimit  = 100
	promTimeLayout = "2006-01-02T15:04:05"
)

type PromClient struct {
	*client
	token string
}

func NewPromClient(shop config.Shop, log *slog.Logger) (*PromClient, error) {
	if shop.Token == "" {
		return nil, fmt.Errorf("shop %s: token is required", shop.Name)
	}
	return &PromClient{
		client: newClient(shop, promBaseUrl, log),
		token:  shop.Token,
	}, nil
}

func (p *PromClient) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.token)
	return h
}

// FetchOrders returns the orders modified in [from, to], paging back by last_id.
func (p *PromClient) FetchOrders(ctx context.Context, from, to time.Time) ([]entity.RawOrder, error) {
	query := url.Values{}
	query.Set("last_modified_from", from.Format(promTimeLayout))
	query.Set("last_modified_to", to.Format(promTimeLayout))
	query.Set("limit", strconv.Itoa(promPageLimit))

	var orders []entity.RawOrder
	for page := 1; ; page++ {
		data, err := p.doRequest(ctx, http.MethodGet, "/orders/list", query, nil, p.header())
		if err != nil {
			return nil, fmt.Errorf("fetch orders page %d: %w", page, err)
		}
		var resp struct {
			Orders []entity.RawOrder `json:"orders"`
		}
		if err = decode(data, &resp); err != nil {
			return nil, err
		}
		orders = append(orders, resp.Orders...)

		if len(resp.Orders) < promPageLimit {
			break
		}
		id, ok := resp.Orders[len(resp.Orders)-1]["id"]
		lastId := fmt.Sprint(id)
		if !ok || lastId == query.Get("last_id") {
			break
		}
		query.Set("last_id", lastId)
	}
	return orders, nil
}

func (p *PromClient) FetchOrder(ctx context.Context, id string) (entity.RawOrder, error) {
	data, err := p.doRequest(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, p.header())
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", id, err)
	}
	var resp struct {
		Order entity.RawOrder `json:"order"`
	}
	if err = decode(data, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("order %s: empty response", id)
	}
	return resp.Order, nil
}
