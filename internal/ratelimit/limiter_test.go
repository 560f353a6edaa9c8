package ratelimit

import (
	"context"
	"errors"
	"testing"
)

func TestUnlimited(t *testing.T) {
	t.Parallel()

	var l Unlimited
	if err := l.Wait(context.Background(), "test2-9f700"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "test2-9f700"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}
