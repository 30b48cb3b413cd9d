package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithPolicy(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", failures: 0, wantCalls: 1},
		{name: "transient then ok", failures: 2, err: errors.New("connection reset by peer"), wantCalls: 3},
		{name: "exhausted", failures: 5, err: errors.New("i/o timeout"), wantCalls: 3, wantErr: true},
		{name: "permanent", failures: 5, err: errors.New("manifest unknown"), wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWithPolicy(context.Background(), policy, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, isTransientPullError, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryWithPolicy_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	err := retryWithPolicy(ctx, policy, func(context.Context) error { return errors.New("eof") }, isTransientPullError, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	if d := backoffDelay(policy, 0); d != time.Second {
		t.Errorf("attempt 0 delay = %v", d)
	}
	if d := backoffDelay(policy, 5); d != 3*time.Second {
		t.Errorf("attempt 5 delay = %v, want cap", d)
	}
}
