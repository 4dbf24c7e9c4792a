package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersync/entity"
)

func fastPolicy() Policy {
	return Policy{
		Initial:    time.Millisecond,
		Max:        5 * time.Millisecond,
		MaxElapsed: 200 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestPolicy_Do(t *testing.T) {
	transient := &entity.TransientSourceError{Source: "prom", Err: errors.New("503")}
	fatal := errors.New("401 unauthorized")

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   error
	}{
		{"first attempt succeeds", nil, 1, nil},
		{"transient errors are retried", []error{transient, transient}, 3, nil},
		{"fatal error stops at once", []error{fatal}, 1, fatal},
		{"fatal after transient", []error{transient, fatal}, 2, fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			}, nil)

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestPolicy_DoBudgetExhausted(t *testing.T) {
	p := fastPolicy()
	p.MaxElapsed = 20 * time.Millisecond

	waits := 0
	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		return &entity.DispatchError{Target: "outbox", Err: errors.New("disk full")}
	}, func(err error, d time.Duration) {
		waits++
	})

	require.Error(t, err)
	assert.True(t, entity.IsRetriable(err))
	assert.Greater(t, waits, 0)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPolicy_DoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Default().Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestPolicy_CustomClassifier(t *testing.T) {
	p := fastPolicy()
	p.Retriable = func(err error) bool { return true }

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("plain")
		}
		return nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBudget(t *testing.T) {
	p := Default().WithBudget(10 * time.Second)
	assert.Equal(t, 10*time.Second, p.MaxElapsed)
	assert.Equal(t, Default().MaxElapsed, Default().WithBudget(0).MaxElapsed)
}

type throttled struct {
	after time.Duration
}

func (e *throttled) Error() string              { return "429 too many requests" }
func (e *throttled) RetryDelay() time.Duration { return e.after }

func TestPolicy_DoHonoursDelayHint(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		minWait time.Duration
		maxWait time.Duration
	}{
		{
			name:    "hint longer than backoff",
			err:     &entity.TransientSourceError{Source: "prom", Err: &throttled{after: 50 * time.Millisecond}},
			minWait: 50 * time.Millisecond,
			maxWait: 50 * time.Millisecond,
		},
		{
			name:    "hint shorter than backoff",
			err:     &entity.TransientSourceError{Source: "prom", Err: &throttled{after: time.Nanosecond}},
			minWait: time.Millisecond,
			maxWait: 5 * time.Millisecond,
		},
		{
			name:    "no hint",
			err:     &entity.TransientSourceError{Source: "prom", Err: errors.New("503")},
			minWait: time.Millisecond,
			maxWait: 5 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fastPolicy()
			p.MaxElapsed = time.Second

			calls := 0
			var waits []time.Duration
			err := p.Do(context.Background(), func(ctx context.Context) error {
				calls++
				if calls == 1 {
					return tt.err
				}
				return nil
			}, func(err error, d time.Duration) {
				waits = append(waits, d)
			})

			require.NoError(t, err)
			require.Len(t, waits, 1)
			assert.GreaterOrEqual(t, waits[0], tt.minWait)
			assert.LessOrEqual(t, waits[0], tt.maxWait)
		})
	}
}
