package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ordersync/entity"
	"ordersync/internal/config"
	"ordersync/internal/lib/sl"
)

const horoshopTimeLayout = "2006-01-02 15:04:05"

var errUnauthorized = errors.New("horoshop: unauthorized")

// HoroshopClient talks to the Horoshop API, which takes a session token in
// every request body. The token is obtained with login and password and
// refreshed once when the API reports it expired.
type HoroshopClient struct {
	*client
	login    string
	password string
	mu       sync.Mutex
	token    string
}

func NewHoroshopClient(shop config.Shop, log *slog.Logger) (*HoroshopClient, error) {
	if shop.BaseUrl == "" {
		return nil, fmt.Errorf("shop %s: base_url is required", shop.Name)
	}
	if shop.Login == "" || shop.Password == "" {
		return nil, fmt.Errorf("shop %s: login and password are required", shop.Name)
	}
	return &HoroshopClient{
		client:   newClient(shop, "", log),
		login:    shop.Login,
		password: shop.Password,
	}, nil
}

type horoshopResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type horoshopMessage struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

func (h *HoroshopClient) post(ctx context.Context, route string, payload map[string]any) (json.RawMessage, error) {
	data, err := h.doRequest(ctx, http.MethodPost, route, nil, payload, nil)
	if err != nil {
		return nil, err
	}
	var resp horoshopResponse
	if err = decode(data, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "OK":
		return resp.Response, nil
	case "UNAUTHORIZED", "AUTHORIZATION_ERROR":
		return nil, errUnauthorized
	}
	var msg horoshopMessage
	_ = json.Unmarshal(resp.Response, &msg)
	return nil, fmt.Errorf("horoshop %s: %s %v", resp.Status, msg.Message, msg.Code)
}

func (h *HoroshopClient) authenticate(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token != "" {
		return h.token, nil
	}

	data, err := h.post(ctx, "/auth", map[string]any{"login": h.login, "password": h.password})
	if err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}
	var auth struct {
		Token string `json:"token"`
	}
	if err = decode(data, &auth); err != nil {
		return "", err
	}
	if auth.Token == "" {
		return "", fmt.Errorf("auth: empty token")
	}
	h.token = auth.Token
	h.log.With(sl.Secret("token", auth.Token)).Debug("authenticated")
	return h.token, nil
}

func (h *HoroshopClient) resetToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == token {
		h.token = ""
	}
}

// call adds the session token to the payload and re-authenticates once on an expired session.
func (h *HoroshopClient) call(ctx context.Context, route string, payload map[string]any) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		token, err := h.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		body := make(map[string]any, len(payload)+1)
		for k, v := range payload {
			body[k] = v
		}
		body["token"] = token

		data, err := h.post(ctx, route, body)
		if errors.Is(err, errUnauthorized) && attempt == 0 {
			h.resetToken(token)
			continue
		}
		return data, err
	}
}

type horoshopOrders struct {
	Orders []entity.RawOrder `json:"orders"`
}

// FetchOrders returns the orders in [from, to].
func (h *HoroshopClient) FetchOrders(ctx context.Context, from, to time.Time) ([]entity.RawOrder, error) {
	data, err := h.call(ctx, "/orders/get/", map[string]any{
		"from":  from.Format(horoshopTimeLayout),
		"to":    to.Format(horoshopTimeLayout),
		"limit": 500,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	var resp horoshopOrders
	if err = decode(data, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (h *HoroshopClient) FetchOrder(ctx context.Context, id string) (entity.RawOrder, error) {
	data, err := h.call(ctx, "/orders/get/", map[string]any{"ids": []string{id}})
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", id, err)
	}
	var resp horoshopOrders
	if err = decode(data, &resp); err != nil {
		return nil, err
	}
	if len(resp.Orders) == 0 {
		return nil, fmt.Errorf("order %s not found", id)
	}
	return resp.Orders[0], nil
}
