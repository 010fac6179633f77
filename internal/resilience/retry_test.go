package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:      2,
		InitialBackoff:   10 * time.Millisecond,
		MaxBackoff:       100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:           false,
	}

	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return errors.New("persistent error")
	}, config, nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_ExponentialSchedule(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	var stamps []time.Time
	Retry(context.Background(), func() error {
		stamps = append(stamps, time.Now())
		return errors.New("persistent error")
	}, config, nil)

	if len(stamps) != 4 {
		t.Fatalf("Expected 4 attempts, got %d", len(stamps))
	}
	// 20ms, 40ms, then capped at 50ms
	want := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for i, min := range want {
		if gap := stamps[i+1].Sub(stamps[i]); gap < min {
			t.Errorf("Expected gap %d to be at least %v, got %v", i, min, gap)
		}
	}
	if total := stamps[3].Sub(stamps[0]); total > time.Second {
		t.Errorf("Expected backoff to stay capped, took %v", total)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:      3,
		InitialBackoff:  10 * time.Millisecond,
		MaxBackoff:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:           false,
	}

	attempts := 0
	isRetryable := func(err error) bool {
		return false // All errors are non-retryable
	}

	err := Retry(context.Background(), func() error {
		attempts++
		return errors.New("non-retryable error")
	}, config, isRetryable)

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetry_RetryableError(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:      3,
		InitialBackoff:  10 * time.Millisecond,
		MaxBackoff:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:           false,
	}

	attempts := 0
	isRetryable := func(err error) bool {
		return true // All errors are retryable
	}

	err := Retry(context.Background(), func() error {
		attempts++
		return errors.New("retryable error")
	}, config, isRetryable)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts for retryable error, got %d", attempts)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", errors.New("connection refused"), true},
		{"connection reset", errors.New("connection reset"), true},
		{"unavailable", errors.New("unavailable"), true},
		{"deadline exceeded", errors.New("deadline exceeded"), true},
		{"timeout", errors.New("timeout"), true},
		{"resource exhausted", errors.New("resource exhausted"), true},
		{"rate limit", errors.New("rate limit"), true},
		{"upstream 429", errors.New("upstream returned 429 Too Many Requests"), true},
		{"wrapped retryable", NewRetryableError(errors.New("bad gateway")), true},
		{"cancelled", context.Canceled, false},
		{"other error", errors.New("other error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableNetworkError(tt.err)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	start := time.Now()
	err := Retry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("temporary error")
	}, config, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Expected cancellation to interrupt backoff")
	}
}

func TestLinearBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		base     time.Duration
		expected time.Duration
	}{
		{0, 450 * time.Millisecond, 450 * time.Millisecond},
		{1, 450 * time.Millisecond, 800 * time.Millisecond},
		{2, 300 * time.Millisecond, 1000 * time.Millisecond},
		{10, 700 * time.Millisecond, 3 * time.Second}, // Capped at max
		{-1, 300 * time.Millisecond, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		backoff := LinearBackoff(tt.attempt, tt.base, 350*time.Millisecond, 3*time.Second)
		if backoff != tt.expected {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, backoff)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt        int
		initialBackoff time.Duration
		maxBackoff     time.Duration
		multiplier     float64
		expectedMin    time.Duration
		expectedMax    time.Duration
	}{
		{0, 100 * time.Millisecond, 1 * time.Second, 2.0, 100 * time.Millisecond, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, 1 * time.Second, 2.0, 200 * time.Millisecond, 200 * time.Millisecond},
		{2, 100 * time.Millisecond, 1 * time.Second, 2.0, 400 * time.Millisecond, 400 * time.Millisecond},
		{5, 100 * time.Millisecond, 1 * time.Second, 2.0, 1 * time.Second, 1 * time.Second}, // Capped at max
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			backoff := CalculateBackoff(tt.attempt, tt.initialBackoff, tt.maxBackoff, tt.multiplier)
			if backoff < tt.expectedMin || backoff > tt.expectedMax {
				t.Errorf("Expected backoff between %v and %v, got %v",
					tt.expectedMin, tt.expectedMax, backoff)
			}
		})
	}
}

func TestNewRetryableError(t *testing.T) {
	originalErr := errors.New("original error")
	retryableErr := NewRetryableError(originalErr)

	if retryableErr.Error() != "original error" {
		t.Errorf("Expected error message 'original error', got %s", retryableErr.Error())
	}

	if !IsRetryable(retryableErr) {
		t.Error("Expected error to be retryable")
	}

	if IsRetryable(originalErr) {
		t.Error("Expected original error to not be retryable")
	}
}

