package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/goplan/orchestrator/orcherr"
)

// TestIsRetryableProperty verifies IsRetryable classifies the error families
// the plan executor actually sees: context errors, network timeouts, and
// adapter-surfaced HTTP status errors.
func TestIsRetryableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("nil error is not retryable", prop.ForAll(
		func(_ int) bool { return !IsRetryable(nil) },
		gen.Int(),
	))

	properties.Property("context.Canceled is not retryable", prop.ForAll(
		func(_ int) bool { return !IsRetryable(context.Canceled) },
		gen.Int(),
	))

	properties.Property("context.DeadlineExceeded is retryable", prop.ForAll(
		func(_ int) bool { return IsRetryable(context.DeadlineExceeded) },
		gen.Int(),
	))

	properties.Property("HTTP 503 is retryable", prop.ForAll(
		func(msg string) bool {
			return IsRetryable(&HTTPStatusError{StatusCode: http.StatusServiceUnavailable, Message: msg})
		},
		gen.AlphaString(),
	))

	properties.Property("HTTP 429 is retryable", prop.ForAll(
		func(msg string) bool {
			return IsRetryable(&HTTPStatusError{StatusCode: http.StatusTooManyRequests, Message: msg})
		},
		gen.AlphaString(),
	))

	properties.Property("HTTP 400 is not retryable", prop.ForAll(
		func(msg string) bool {
			return !IsRetryable(&HTTPStatusError{StatusCode: http.StatusBadRequest, Message: msg})
		},
		gen.AlphaString(),
	))

	properties.Property("HTTP 404 is not retryable", prop.ForAll(
		func(msg string) bool {
			return !IsRetryable(&HTTPStatusError{StatusCode: http.StatusNotFound, Message: msg})
		},
		gen.AlphaString(),
	))

	properties.Property("orcherr.Transient is retryable regardless of message", prop.ForAll(
		func(msg string) bool {
			return IsRetryable(orcherr.New(orcherr.Transient, msg))
		},
		gen.AlphaString(),
	))

	properties.Property("orcherr.BudgetExceeded is never retryable", prop.ForAll(
		func(msg string) bool {
			return !IsRetryable(orcherr.New(orcherr.BudgetExceeded, msg))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestRetryDoProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("successful operation returns nil", prop.ForAll(
		func(maxAttempts int) bool {
			cfg := Config{MaxAttempts: maxAttempts, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffMultiplier: 2.0}
			err := Do(context.Background(), cfg, func(context.Context) error { return nil })
			return err == nil
		},
		gen.IntRange(1, 10),
	))

	properties.Property("non-retryable error returns immediately", prop.ForAll(
		func(maxAttempts int) bool {
			cfg := Config{MaxAttempts: maxAttempts, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffMultiplier: 2.0}
			attempts := 0
			nonRetryable := errors.New("permanent failure")
			err := Do(context.Background(), cfg, func(context.Context) error {
				attempts++
				return nonRetryable
			})
			return attempts == 1 && errors.Is(err, nonRetryable)
		},
		gen.IntRange(2, 10),
	))

	properties.Property("retryable error exhausts all attempts", prop.ForAll(
		func(maxAttempts int) bool {
			cfg := Config{MaxAttempts: maxAttempts, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffMultiplier: 2.0}
			attempts := 0
			retryable := &HTTPStatusError{StatusCode: http.StatusServiceUnavailable, Message: "unavailable"}
			err := Do(context.Background(), cfg, func(context.Context) error {
				attempts++
				return retryable
			})
			var exhausted *ExhaustedError
			return attempts == maxAttempts && errors.As(err, &exhausted)
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestCalculateBackoffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff respects max limit", prop.ForAll(
		func(attempt int) bool {
			cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2.0}
			return calculateBackoff(cfg, attempt) <= cfg.MaxBackoff
		},
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}

type mockTimeoutError struct{ timeout bool }

func (e *mockTimeoutError) Error() string   { return "mock network error" }
func (e *mockTimeoutError) Timeout() bool   { return e.timeout }
func (e *mockTimeoutError) Temporary() bool { return false }

var _ net.Error = (*mockTimeoutError)(nil)

func TestNetworkErrorRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"timeout error is retryable", &mockTimeoutError{timeout: true}, true},
		{"non-timeout is not retryable", &mockTimeoutError{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}
