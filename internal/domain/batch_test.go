package domain

import (
	"errors"
	"testing"
)

func TestResolveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current BatchStatus
		total   int
		sent    int
		failed  int
		want    BatchStatus
	}{
		{name: "in progress stays processing", current: BatchStatusProcessing, total: 10, sent: 4, failed: 1, want: BatchStatusProcessing},
		{name: "all sent completes", current: BatchStatusProcessing, total: 2500, sent: 2500, want: BatchStatusCompleted},
		{name: "all failed fails", current: BatchStatusProcessing, total: 3, failed: 3, want: BatchStatusFailed},
		{name: "mixed is partially failed", current: BatchStatusProcessing, total: 10, sent: 7, failed: 3, want: BatchStatusPartiallyFailed},
		{name: "zero items completes", current: BatchStatusProcessing, total: 0, want: BatchStatusCompleted},
		{name: "pending is untouched", current: BatchStatusPending, total: 0, want: BatchStatusPending},
		{name: "completed stays completed", current: BatchStatusCompleted, total: 10, sent: 7, failed: 3, want: BatchStatusCompleted},
		{name: "failed stays failed", current: BatchStatusFailed, total: 10, sent: 10, want: BatchStatusFailed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ResolveStatus(tt.current, tt.total, tt.sent, tt.failed)
			if got != tt.want {
				t.Fatalf("ResolveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveStatusIdempotentOnTerminal(t *testing.T) {
	t.Parallel()

	status := ResolveStatus(BatchStatusProcessing, 10, 7, 3)
	for i := 0; i < 3; i++ {
		again := ResolveStatus(status, 10, 7, 3)
		if again != status {
			t.Fatalf("re-evaluation changed status from %s to %s", status, again)
		}
	}
}

func TestBatchRemaining(t *testing.T) {
	t.Parallel()

	b := Batch{TotalItems: 10, SentCount: 4, FailedCount: 2}
	if got := b.Remaining(); got != 4 {
		t.Fatalf("Remaining() = %d, want 4", got)
	}

	b.SentCount = 12
	if got := b.Remaining(); got != 0 {
		t.Fatalf("Remaining() = %d, want 0 when counters overshoot", got)
	}
}

func TestParseOperationFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseOperationFromString(" Password_Reset ")
	if err != nil {
		t.Fatalf("ParseOperationFromString() unexpected error = %v", err)
	}
	if got != OperationPasswordReset {
		t.Fatalf("ParseOperationFromString() = %s, want %s", got, OperationPasswordReset)
	}

	_, err = ParseOperationFromString("disable")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseOperationFromString() error = %v, want ErrValidation", err)
	}
}

func TestBatchStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []BatchStatus{BatchStatusCompleted, BatchStatusFailed, BatchStatusPartiallyFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []BatchStatus{BatchStatusPending, BatchStatusProcessing} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
