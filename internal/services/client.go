package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ordersync/entity"
	"ordersync/internal/config"
	"ordersync/internal/lib/sl"
)

// Fetcher reads raw orders from one shop back-end.
type Fetcher interface {
	FetchOrders(ctx context.Context, from, to time.Time) ([]entity.RawOrder, error)
	FetchOrder(ctx context.Context, id string) (entity.RawOrder, error)
}

// APIError represents a non-200 response of a source API and optional RetryAfter
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// RetryDelay is the wait asked for by the Retry-After header, zero when absent
func (e *APIError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// Transient reports whether the status is worth another attempt
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusLocked || (e.Status >= 500 && e.Status <= 599)
}

// parseRetryAfter tries to parse Retry-After header; supports seconds or HTTP-date
func parseRetryAfter(h string) (time.Duration, error) {
	if h == "" {
		return 0, fmt.Errorf("empty")
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	if t, err := http.ParseTime(h); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0, nil
		}
		return d, nil
	}
	return 0, fmt.Errorf("unparsable")
}

// New builds the client for the shop's source.
func New(shop config.Shop, log *slog.Logger) (Fetcher, error) {
	switch entity.Source(shop.Source) {
	case entity.SourceProm:
		return NewPromClient(shop, log)
	case entity.SourceHoroshop:
		return NewHoroshopClient(shop, log)
	case entity.SourceKeyCrm:
		return NewKeyCrmClient(shop, log)
	}
	return nil, fmt.Errorf("shop %s: unknown source %q", shop.Name, shop.Source)
}

// client is the shared HTTP part of the source clients, one rate limiter per shop.
type client struct {
	shop       string
	baseUrl    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

func newClient(shop config.Shop, defaultBaseUrl string, log *slog.Logger) *client {
	baseUrl := shop.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	limit, burst := shop.RateLimit, shop.Burst
	if limit <= 0 {
		limit = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &client{
		shop:    shop.Name,
		baseUrl: strings.TrimRight(baseUrl, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		log:     log.With(sl.Module("source"), slog.String("shop", shop.Name)),
	}
}

// doRequest sends one request under the rate limiter. Network failures and
// 429/423/5xx answers come back as *entity.TransientSourceError, any other
// non-200 answer as *APIError.
func (c *client) doRequest(ctx context.Context, method, path string, query url.Values, body any, header http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullUrl := c.baseUrl + path
	if len(query) > 0 {
		fullUrl += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullUrl, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	t := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transient(fmt.Errorf("send request: %w", err))
	}
	bodyBytes, readErr := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.log.With(sl.Err(closeErr)).Warn("failed to close response body")
	}
	if readErr != nil {
		return nil, c.transient(fmt.Errorf("read response body: %w", readErr))
	}

	c.log.With(
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(t)),
	).Debug("source request")

	if resp.StatusCode == http.StatusOK {
		return bodyBytes, nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Body: truncate(string(bodyBytes), 512)}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if d, err := parseRetryAfter(ra); err == nil {
			apiErr.RetryAfter = d
		}
	}
	if apiErr.Transient() {
		return nil, c.transient(apiErr)
	}
	return nil, apiErr
}

func (c *client) transient(err error) error {
	return &entity.TransientSourceError{Source: c.shop, Err: err}
}

// decode keeps numbers as json.Number so prices and ids are not rounded through float64.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
