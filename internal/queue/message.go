package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

// ChunkMessage is the broker payload for one chunk task.
type ChunkMessage struct {
	TaskID     string            `json:"taskId"`
	BatchID    string            `json:"batchId"`
	ProjectID  string            `json:"projectId"`
	Operation  domain.Operation  `json:"operation"`
	ChunkIndex int               `json:"chunkIndex"`
	Attempt    int               `json:"attempt"`
	Items      []domain.WorkItem `json:"items"`
}

func (m ChunkMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return fmt.Errorf("taskId is required")
	}
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.ProjectID) == "" {
		return fmt.Errorf("projectId is required")
	}
	if !m.Operation.IsValid() {
		return fmt.Errorf("invalid operation %q", m.Operation)
	}
	if m.ChunkIndex < 0 {
		return fmt.Errorf("chunkIndex must not be negative")
	}
	if m.Attempt < 1 {
		return fmt.Errorf("attempt must be at least 1")
	}
	if len(m.Items) == 0 {
		return fmt.Errorf("items must not be empty")
	}
	return nil
}

// NextAttempt returns a copy of the task scheduled for its next attempt.
func (m ChunkMessage) NextAttempt() ChunkMessage {
	next := m
	next.Attempt++
	return next
}
