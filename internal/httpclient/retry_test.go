package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSucceedsOnFirstAttempt(t *testing.T) {
	policy := NewRetryPolicy(DefaultPolicyConfig(), nil)
	body, contentType, err := policy.Call(context.Background(), "xtts:local", func(ctx context.Context) ([]byte, string, error) {
		return []byte("ok"), "application/json", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, "application/json", contentType)
}

func TestCallDoesNotRetryClientError(t *testing.T) {
	policy := NewRetryPolicy(DefaultPolicyConfig(), nil)
	var calls int
	_, _, err := policy.Call(context.Background(), "xtts:local", func(ctx context.Context) ([]byte, string, error) {
		calls++
		return nil, "", &ClientError{StatusCode: 400, Message: "bad request"}
	})
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, 1, calls)
}

func TestCallRetriesLoadingUntilCumulativeCap(t *testing.T) {
	cfg := PolicyConfig{
		LoadingRetryDelay:      time.Millisecond,
		LoadingCumulativeCap:   5 * time.Millisecond,
		ServerErrorMaxAttempts: 3,
	}
	policy := NewRetryPolicy(cfg, nil)
	var calls int
	_, _, err := policy.Call(context.Background(), "xtts:local", func(ctx context.Context) ([]byte, string, error) {
		calls++
		return nil, "", &LoadingError{Message: "loading"}
	})
	var loadingErr *LoadingError
	require.ErrorAs(t, err, &loadingErr)
	assert.Greater(t, calls, 1)
}

func TestCallRestartsBetweenServerErrorAttempts(t *testing.T) {
	var restarts int
	restart := func(ctx context.Context, variantID string) error {
		restarts++
		return nil
	}
	cfg := DefaultPolicyConfig()
	cfg.ServerErrorMaxAttempts = 3
	policy := NewRetryPolicy(cfg, restart)

	var calls int
	_, _, err := policy.Call(context.Background(), "xtts:local", func(ctx context.Context) ([]byte, string, error) {
		calls++
		return nil, "", &ServerError{StatusCode: 500, Message: "boom"}
	})
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, restarts, "restart fires between attempts, not after the last one")
}

func TestCallSucceedsAfterTransientServerError(t *testing.T) {
	policy := NewRetryPolicy(DefaultPolicyConfig(), func(ctx context.Context, variantID string) error { return nil })
	var calls int
	_, _, err := policy.Call(context.Background(), "xtts:local", func(ctx context.Context) ([]byte, string, error) {
		calls++
		if calls == 1 {
			return nil, "", &ServerError{Cause: errors.New("connection reset")}
		}
		return []byte("done"), "text/plain", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
