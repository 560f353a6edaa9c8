package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a batch.
type BatchStatus string

const (
	BatchStatusPending         BatchStatus = "pending"
	BatchStatusProcessing      BatchStatus = "processing"
	BatchStatusCompleted       BatchStatus = "completed"
	BatchStatusFailed          BatchStatus = "failed"
	BatchStatusPartiallyFailed BatchStatus = "partially_failed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed, BatchStatusPartiallyFailed:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusPartiallyFailed:
		return true
	}
	return false
}

// Operation is the upstream user-management action a batch performs per item.
type Operation string

const (
	OperationPasswordReset Operation = "password_reset"
	OperationUserImport    Operation = "user_import"
	OperationUserDelete    Operation = "user_delete"
)

func (o Operation) String() string { return string(o) }

func (o Operation) IsValid() bool {
	switch o {
	case OperationPasswordReset, OperationUserImport, OperationUserDelete:
		return true
	}
	return false
}

func ParseOperationFromString(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if !op.IsValid() {
		return "", fmt.Errorf("%w: invalid operation %q", ErrValidation, s)
	}
	return op, nil
}

// Batch is one bulk operation against a project, tracked by aggregate counters.
type Batch struct {
	ID           string
	ProjectID    string
	Operation    Operation
	Status       BatchStatus
	TotalItems   int
	SentCount    int
	FailedCount  int
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Processed is the number of items with a recorded outcome.
func (b *Batch) Processed() int {
	return b.SentCount + b.FailedCount
}

// Remaining is the number of items that have not reached an outcome yet.
func (b *Batch) Remaining() int {
	return max(b.TotalItems-b.Processed(), 0)
}

// ResolveStatus returns the status a batch should hold for the given counters.
// Terminal and pending statuses are returned unchanged; a processing batch
// becomes terminal once every item has an outcome.
func ResolveStatus(current BatchStatus, total, sent, failed int) BatchStatus {
	if current != BatchStatusProcessing {
		return current
	}
	if sent+failed < total {
		return current
	}

	switch {
	case failed == 0:
		return BatchStatusCompleted
	case sent == 0:
		return BatchStatusFailed
	default:
		return BatchStatusPartiallyFailed
	}
}
