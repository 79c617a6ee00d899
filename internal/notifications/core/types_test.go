package core

import (
	"testing"
	"time"
)

func TestCalculateNextRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Hour, BackoffFactor: 4}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 4 * time.Minute},
		{2, 16 * time.Minute},
		{3, time.Hour},
		{50, time.Hour},
	}

	for _, tt := range tests {
		if got := CalculateNextRetry(policy, tt.attempt); got != tt.want {
			t.Errorf("CalculateNextRetry(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	if DefaultRetryPolicy.MaxAttempts <= 0 {
		t.Fatal("default policy must cap retries")
	}
	if CalculateNextRetry(DefaultRetryPolicy, 100) != DefaultRetryPolicy.MaxDelay {
		t.Error("delay must be capped at MaxDelay")
	}
}
