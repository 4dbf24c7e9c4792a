package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersync/entity"
	"ordersync/internal/config"
	"ordersync/internal/lib/retry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testShop(source entity.Source, baseUrl string) config.Shop {
	return config.Shop{
		Name:      "test-shop",
		Source:    string(source),
		BaseUrl:   baseUrl,
		Token:     "secret-token",
		Login:     "api",
		Password:  "pass",
		RateLimit: 1000,
		Burst:     10,
	}
}

func TestParseRetryAfter(t *testing.T) {
	d, err := parseRetryAfter("12")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, d)

	d, err = parseRetryAfter(time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	_, err = parseRetryAfter("")
	assert.Error(t, err)
	_, err = parseRetryAfter("soon")
	assert.Error(t, err)
}

func TestDoRequest_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"too many requests", http.StatusTooManyRequests, true},
		{"locked", http.StatusLocked, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			c, err := NewPromClient(testShop(entity.SourceProm, srv.URL), discard)
			require.NoError(t, err)
			_, err = c.FetchOrder(context.Background(), "1")
			require.Error(t, err)

			assert.Equal(t, tt.transient, entity.IsRetriable(err))
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
		})
	}
}

func TestDoRequest_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewKeyCrmClient(testShop(entity.SourceKeyCrm, url), discard)
	require.NoError(t, err)
	_, err = c.FetchOrder(context.Background(), "1")
	assert.True(t, entity.IsRetriable(err))
}

func TestDoRequest_ContextCancelled(t *testing.T) {
	c, err := NewPromClient(testShop(entity.SourceProm, "http://127.0.0.1:1"), discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.FetchOrders(ctx, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromClient_FetchOrders(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/list", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-06-01T11:30:00", r.URL.Query().Get("last_modified_from"))
		requests = append(requests, r.URL.Query().Get("last_id"))

		var orders []map[string]any
		switch r.URL.Query().Get("last_id") {
		case "":
			for i := 0; i < promPageLimit; i++ {
				orders = append(orders, map[string]any{"id": 1000 - i})
			}
		case "901":
			orders = append(orders, map[string]any{"id": 900, "price": "1 200,50 грн."})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"orders": orders})
	}))
	defer srv.Close()

	c, err := NewPromClient(testShop(entity.SourceProm, srv.URL), discard)
	require.NoError(t, err)

	to := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	orders, err := c.FetchOrders(context.Background(), to.Add(-30*time.Minute), to)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "901"}, requests)
	require.Len(t, orders, promPageLimit+1)
	assert.Equal(t, json.Number("1000"), orders[0]["id"])
	assert.Equal(t, "1 200,50 грн.", orders[promPageLimit]["price"])
}

func TestPromClient_RetryAfterDelaysNextAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": 7}})
	}))
	defer srv.Close()

	c, err := NewPromClient(testShop(entity.SourceProm, srv.URL), discard)
	require.NoError(t, err)

	policy := retry.Policy{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, MaxElapsed: 5 * time.Second, Multiplier: 2}
	var order entity.RawOrder
	var attempts []time.Time
	err = policy.Do(context.Background(), func(ctx context.Context) error {
		attempts = append(attempts, time.Now())
		var err error
		order, err = c.FetchOrder(ctx, "7")
		return err
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, json.Number("7"), order["id"])
	require.Len(t, attempts, 2)
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), time.Second)
}

func TestPromClient_FetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/321", r.URL.Path)
		_, _ = w.Write([]byte(`{"order":{"id":321,"status":"pending","cpa_commission":{"amount":"12.5"}}}`))
	}))
	defer srv.Close()

	c, err := NewPromClient(testShop(entity.SourceProm, srv.URL), discard)
	require.NoError(t, err)

	order, err := c.FetchOrder(context.Background(), "321")
	require.NoError(t, err)
	assert.Equal(t, json.Number("321"), order["id"])
	assert.Equal(t, "pending", order["status"])
}

func TestPromClient_RequiresToken(t *testing.T) {
	shop := testShop(entity.SourceProm, "")
	shop.Token = ""
	_, err := NewPromClient(shop, discard)
	assert.Error(t, err)
}

func TestKeyCrmClient_FetchOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, keyCrmInclude, r.URL.Query().Get("include"))
		assert.Equal(t, "2024-06-01 11:00:00, 2024-06-01 12:00:00", r.URL.Query().Get("filter[updated_between]"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":         []map[string]any{{"id": page * 10}, {"id": page*10 + 1}},
			"current_page": page,
			"last_page":    3,
		})
	}))
	defer srv.Close()

	c, err := NewKeyCrmClient(testShop(entity.SourceKeyCrm, srv.URL), discard)
	require.NoError(t, err)

	to := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	orders, err := c.FetchOrders(context.Background(), to.Add(-time.Hour), to)
	require.NoError(t, err)
	require.Len(t, orders, 6)
	assert.Equal(t, json.Number("31"), orders[5]["id"])
}

func TestKeyCrmClient_FetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order/77", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":77,"source_uuid":"100","grand_total":1500.5}`))
	}))
	defer srv.Close()

	c, err := NewKeyCrmClient(testShop(entity.SourceKeyCrm, srv.URL), discard)
	require.NoError(t, err)

	order, err := c.FetchOrder(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, json.Number("1500.5"), order["grand_total"])
}

func TestHoroshopClient_Reauthenticates(t *testing.T) {
	var auths, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/auth":
			n := auths.Add(1)
			assert.Equal(t, "api", body["login"])
			_, _ = w.Write([]byte(`{"status":"OK","response":{"token":"token-` + strconv.Itoa(int(n)) + `"}}`))
		case "/orders/get/":
			calls.Add(1)
			if body["token"] != "token-2" {
				_, _ = w.Write([]byte(`{"status":"UNAUTHORIZED","response":{"message":"token expired"}}`))
				return
			}
			assert.Equal(t, "2024-06-01 11:30:00", body["from"])
			_, _ = w.Write([]byte(`{"status":"OK","response":{"orders":[{"order_id":55,"stat_status":1}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewHoroshopClient(testShop(entity.SourceHoroshop, srv.URL), discard)
	require.NoError(t, err)

	to := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	orders, err := c.FetchOrders(context.Background(), to.Add(-30*time.Minute), to)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, json.Number("55"), orders[0]["order_id"])
	assert.Equal(t, int32(2), auths.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestHoroshopClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			_, _ = w.Write([]byte(`{"status":"OK","response":{"token":"t"}}`))
		default:
			_, _ = w.Write([]byte(`{"status":"UNAUTHORIZED","response":{"message":"denied"}}`))
		}
	}))
	defer srv.Close()

	c, err := NewHoroshopClient(testShop(entity.SourceHoroshop, srv.URL), discard)
	require.NoError(t, err)

	_, err = c.FetchOrder(context.Background(), "55")
	assert.True(t, errors.Is(err, errUnauthorized))
	assert.False(t, entity.IsRetriable(err))
}

func TestNew(t *testing.T) {
	for _, source := range []entity.Source{entity.SourceProm, entity.SourceHoroshop, entity.SourceKeyCrm} {
		f, err := New(testShop(source, "http://localhost"), discard)
		require.NoError(t, err, source)
		assert.NotNil(t, f)
	}

	_, err := New(testShop("insales", ""), discard)
	assert.Error(t, err)
}
