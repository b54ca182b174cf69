package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", MarkTransient(eris.New("flaky"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := eris.New("bad request")
	_, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, MarkTransient(eris.New("still down"))
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, Policy{Attempts: 5, BaseDelay: time.Hour}, "test", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, MarkTransient(eris.New("flaky"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomRetryable(t *testing.T) {
	p := fastPolicy(3)
	p.Retryable = func(err error) bool { return false }

	calls := 0
	_, err := Retry(context.Background(), p, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, MarkTransient(eris.New("would normally retry"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_WrapsRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), "test", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return MarkTransient(eris.New("once"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPolicy_DelayIsBoundedByMax(t *testing.T) {
	p := Policy{Attempts: 5, BaseDelay: time.Second, MaxDelay: 2 * time.Second}.withDefaults()
	for attempt := 0; attempt < 10; attempt++ {
		d := p.delay(attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(2*time.Second)*1.25))
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
