package httpclient

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/metrics"
)

// RestartFunc asks the engine manager to stop and restart a variant's
// engine. It is a callback rather than a direct import so this package does
// not depend on internal/enginemanager.
type RestartFunc func(ctx context.Context, variantID string) error

// PolicyConfig tunes the retry/restart policy of spec §4.4.
type PolicyConfig struct {
	LoadingRetryDelay      time.Duration // wait between loading retries
	LoadingCumulativeCap   time.Duration // give up once cumulative wait exceeds this
	ServerErrorMaxAttempts int           // attempts (including the first) before giving up
}

// DefaultPolicyConfig matches the spec defaults: 1s between loading
// retries, a 300s cumulative loading-wait cap, 3 server-error attempts.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		LoadingRetryDelay:      time.Second,
		LoadingCumulativeCap:   300 * time.Second,
		ServerErrorMaxAttempts: 3,
	}
}

// RetryPolicy executes engine calls under the classification-driven
// retry/restart policy, with a circuit breaker per variant so a
// persistently failing engine stops being hammered between restarts.
type RetryPolicy struct {
	cfg      PolicyConfig
	restart  RestartFunc
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewRetryPolicy returns a policy that calls restart between server-error
// attempts.
func NewRetryPolicy(cfg PolicyConfig, restart RestartFunc) *RetryPolicy {
	return &RetryPolicy{
		cfg:      cfg,
		restart:  restart,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (p *RetryPolicy) breakerFor(variantID string) *gobreaker.CircuitBreaker[any] {
	if b, ok := p.breakers[variantID]; ok {
		return b
	}
	metrics.CircuitBreakerState.WithLabelValues(variantID).Set(0)
	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        variantID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			var loadingErr *LoadingError
			var clientErr *ClientError
			return err == nil || errors.As(err, &loadingErr) || errors.As(err, &clientErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := breakerStateName(from), breakerStateName(to)
			logging.Warn().Str("variant_id", name).Str("from", fromStr).Str("to", toStr).
				Msg("engine circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitionsTotal.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
	p.breakers[variantID] = b
	return b
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func breakerStateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Call runs fn under the variant's breaker and the spec §4.4 classification
// table: ClientError is permanent (no retry); LoadingError retries after
// LoadingRetryDelay until cumulative wait exceeds LoadingCumulativeCap;
// ServerError (including transport failures and SpeakerSampleNotFoundError's
// siblings) triggers a restart and is retried up to ServerErrorMaxAttempts.
func (p *RetryPolicy) Call(ctx context.Context, variantID string, fn func(ctx context.Context) ([]byte, string, error)) ([]byte, string, error) {
	breaker := p.breakerFor(variantID)
	var cumulativeLoadingWait time.Duration
	var attempt int

	for {
		attempt++
		result, err := breaker.Execute(func() (any, error) {
			body, contentType, callErr := fn(ctx)
			if callErr != nil {
				return nil, callErr
			}
			return [2]any{body, contentType}, nil
		})

		if err == nil {
			pair := result.([2]any)
			return pair[0].([]byte), pair[1].(string), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, "", &ServerError{Message: "circuit breaker open for " + variantID, Cause: err}
		}

		var clientErr *ClientError
		var loadingErr *LoadingError
		var serverErr *ServerError
		var speakerErr *SpeakerSampleNotFoundError

		switch {
		case errors.As(err, &clientErr):
			return nil, "", err
		case errors.As(err, &speakerErr):
			return nil, "", err
		case errors.As(err, &loadingErr):
			metrics.HTTPRetriesTotal.WithLabelValues("loading").Inc()
			cumulativeLoadingWait += p.cfg.LoadingRetryDelay
			if cumulativeLoadingWait > p.cfg.LoadingCumulativeCap {
				return nil, "", err
			}
			if waitErr := sleep(ctx, p.cfg.LoadingRetryDelay); waitErr != nil {
				return nil, "", waitErr
			}
			continue
		case errors.As(err, &serverErr):
			metrics.HTTPRetriesTotal.WithLabelValues("server_error").Inc()
			if attempt >= p.cfg.ServerErrorMaxAttempts {
				return nil, "", err
			}
			if p.restart != nil {
				metrics.EngineRestartsTotal.WithLabelValues(variantID, "server_error_retry").Inc()
				if restartErr := p.restart(ctx, variantID); restartErr != nil {
					logging.Error().Str("variant_id", variantID).Err(restartErr).
						Msg("engine restart failed during server-error retry")
				}
			}
			continue
		default:
			// Unclassified exception: treated as a server error per spec §4.4.
			metrics.HTTPRetriesTotal.WithLabelValues("server_error").Inc()
			if attempt >= p.cfg.ServerErrorMaxAttempts {
				return nil, "", &ServerError{Message: "unclassified failure", Cause: err}
			}
			if p.restart != nil {
				if restartErr := p.restart(ctx, variantID); restartErr != nil {
					logging.Error().Str("variant_id", variantID).Err(restartErr).
						Msg("engine restart failed during server-error retry")
				}
			}
			continue
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
