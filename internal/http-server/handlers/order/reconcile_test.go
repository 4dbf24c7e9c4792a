package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ordersync/entity"
	"ordersync/internal/lib/api/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	err   error
	calls []string
}

func (f *fakeCore) ReconcileOrder(_ context.Context, shop, id string) error {
	f.calls = append(f.calls, shop+"/"+id)
	return f.err
}

func TestReconcileOrder(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		coreErr   error
		wantCode  int
		wantError string
		wantCalls []string
	}{
		{
			name:      "reconciled",
			body:      `{"data":{"shop":"ukrstil-prom","order_id":"100"}}`,
			wantCode:  http.StatusOK,
			wantCalls: []string{"ukrstil-prom/100"},
		},
		{
			name:      "empty body",
			body:      "",
			wantCode:  http.StatusBadRequest,
			wantError: "BAD_REQUEST",
		},
		{
			name:      "broken json",
			body:      `{"data":`,
			wantCode:  http.StatusBadRequest,
			wantError: "BAD_REQUEST",
		},
		{
			name:      "missing order id",
			body:      `{"data":{"shop":"ukrstil-prom"}}`,
			wantCode:  http.StatusBadRequest,
			wantError: "VALIDATION_ERROR",
		},
		{
			name:      "unknown shop",
			body:      `{"data":{"shop":"nope","order_id":"1"}}`,
			coreErr:   fmt.Errorf("%w: nope", entity.ErrUnknownShop),
			wantCode:  http.StatusNotFound,
			wantError: "NOT_FOUND",
			wantCalls: []string{"nope/1"},
		},
		{
			name:      "malformed order",
			body:      `{"data":{"shop":"ukrstil-prom","order_id":"1"}}`,
			coreErr:   &entity.MalformedOrder{ExternalId: "1", Reason: "price"},
			wantCode:  http.StatusUnprocessableEntity,
			wantError: "UNPROCESSABLE_ORDER",
			wantCalls: []string{"ukrstil-prom/1"},
		},
		{
			name:      "source unavailable",
			body:      `{"data":{"shop":"ukrstil-prom","order_id":"1"}}`,
			coreErr:   &entity.TransientSourceError{Source: "ukrstil-prom", Err: errors.New("503")},
			wantCode:  http.StatusServiceUnavailable,
			wantError: "SERVICE_UNAVAILABLE",
			wantCalls: []string{"ukrstil-prom/1"},
		},
		{
			name:      "deadline",
			body:      `{"data":{"shop":"ukrstil-prom","order_id":"1"}}`,
			coreErr:   context.DeadlineExceeded,
			wantCode:  http.StatusGatewayTimeout,
			wantError: "TIMEOUT",
			wantCalls: []string{"ukrstil-prom/1"},
		},
		{
			name:      "other failure",
			body:      `{"data":{"shop":"ukrstil-prom","order_id":"1"}}`,
			coreErr:   errors.New("ledger down"),
			wantCode:  http.StatusInternalServerError,
			wantError: "INTERNAL_ERROR",
			wantCalls: []string{"ukrstil-prom/1"},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := &fakeCore{err: tt.coreErr}
			req := httptest.NewRequest(http.MethodPost, "/ordersync/webhook/order", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			ReconcileOrder(logger, core).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantCalls, core.calls)

			var resp response.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			if tt.wantError == "" {
				assert.True(t, resp.Success)
				assert.Nil(t, resp.Error)
				return
			}
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantError, resp.Error.Code)
		})
	}
}
