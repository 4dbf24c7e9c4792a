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
	keyCrmBaseUrl    = "https://openapi.keycrm.app/v1"
	keyCrmPageLimit  = 50
	keyCrmInclude    = "buyer,manager,products.offer,shipping.deliveryService,custom_fields,payments"
	keyCrmTimeLayout = "2006-01-02 15:04:05"
	// keyCrmMaxPages bounds one window fetch
	keyCrmMaxPages = 40
)

type KeyCrmClient struct {
	*client
	token string
}

func NewKeyCrmClient(shop config.Shop, log *slog.Logger) (*KeyCrmClient, error) {
	if shop.Token == "" {
		return nil, fmt.Errorf("shop %s: token is required", shop.Name)
	}
	return &KeyCrmClient{
		client: newClient(shop, keyCrmBaseUrl, log),
		token:  shop.Token,
	}, nil
}

func (k *KeyCrmClient) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+k.token)
	h.Set("Cache-Control", "no-cache")
	return h
}

type keyCrmPage struct {
	Data        []entity.RawOrder `json:"data"`
	CurrentPage int               `json:"current_page"`
	LastPage    int               `json:"last_page"`
}

// FetchOrders returns the orders updated in [from, to].
func (k *KeyCrmClient) FetchOrders(ctx context.Context, from, to time.Time) ([]entity.RawOrder, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(keyCrmPageLimit))
	query.Set("include", keyCrmInclude)
	query.Set("filter[updated_between]", from.Format(keyCrmTimeLayout)+", "+to.Format(keyCrmTimeLayout))

	var orders []entity.RawOrder
	for page := 1; page <= keyCrmMaxPages; page++ {
		query.Set("page", strconv.Itoa(page))
		data, err := k.doRequest(ctx, http.MethodGet, "/order", query, nil, k.header())
		if err != nil {
			return nil, fmt.Errorf("fetch orders page %d: %w", page, err)
		}
		var resp keyCrmPage
		if err = decode(data, &resp); err != nil {
			return nil, err
		}
		orders = append(orders, resp.Data...)
		if page >= resp.LastPage || len(resp.Data) == 0 {
			return orders, nil
		}
	}
	k.log.With(slog.Int("pages", keyCrmMaxPages)).Warn("order window truncated")
	return orders, nil
}

func (k *KeyCrmClient) FetchOrder(ctx context.Context, id string) (entity.RawOrder, error) {
	query := url.Values{}
	query.Set("include", keyCrmInclude)
	data, err := k.doRequest(ctx, http.MethodGet, "/order/"+url.PathEscape(id), query, nil, k.header())
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", id, err)
	}
	var order entity.RawOrder
	if err = decode(data, &order); err != nil {
		return nil, err
	}
	return order, nil
}
