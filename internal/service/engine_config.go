package service

import (
	"time"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

// Defaults for EngineConfig fields left at their zero value.
const (
	DefaultChunkSize       = 1000
	DefaultDeleteChunkSize = 1000
	DefaultEnumerationCap  = 10000
	DefaultMaxTaskAttempts = 3
	DefaultInterCallDelay  = 200 * time.Millisecond
	DefaultRiskyCallDelay  = time.Second
	DefaultProviderTimeout = 10 * time.Second
)

// EngineConfig holds the batch engine tunables. It is passed by value and
// never mutated after construction.
type EngineConfig struct {
	// ChunkSize bounds the items per task for reset and import batches.
	ChunkSize int
	// DeleteChunkSize bounds the items per task for delete batches; it never
	// exceeds the upstream batch delete limit.
	DeleteChunkSize int
	// EnumerationCap bounds how many users a batch enumerates upstream.
	EnumerationCap int
	// MaxTaskAttempts is how often a task that fails before its first item runs.
	MaxTaskAttempts int
	// InterCallDelay separates consecutive reset calls within a task.
	InterCallDelay time.Duration
	// RiskyCallDelay separates consecutive create and delete calls within a task.
	RiskyCallDelay time.Duration
	// ProviderTimeout bounds every upstream call.
	ProviderTimeout time.Duration
	// UseBatchDelete sends a task's uids in one upstream batch delete call.
	UseBatchDelete bool
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ChunkSize:       DefaultChunkSize,
		DeleteChunkSize: DefaultDeleteChunkSize,
		EnumerationCap:  DefaultEnumerationCap,
		MaxTaskAttempts: DefaultMaxTaskAttempts,
		InterCallDelay:  DefaultInterCallDelay,
		RiskyCallDelay:  DefaultRiskyCallDelay,
		ProviderTimeout: DefaultProviderTimeout,
		UseBatchDelete:  true,
	}
}

func (c EngineConfig) normalized() EngineConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.DeleteChunkSize <= 0 || c.DeleteChunkSize > DefaultDeleteChunkSize {
		c.DeleteChunkSize = DefaultDeleteChunkSize
	}
	if c.EnumerationCap <= 0 {
		c.EnumerationCap = DefaultEnumerationCap
	}
	if c.MaxTaskAttempts <= 0 {
		c.MaxTaskAttempts = DefaultMaxTaskAttempts
	}
	if c.InterCallDelay < 0 {
		c.InterCallDelay = 0
	}
	if c.RiskyCallDelay < 0 {
		c.RiskyCallDelay = 0
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	return c
}

func (c EngineConfig) chunkSizeFor(op domain.Operation) int {
	if op == domain.OperationUserDelete {
		return c.DeleteChunkSize
	}
	return c.ChunkSize
}

func (c EngineConfig) delayFor(op domain.Operation) time.Duration {
	if op == domain.OperationPasswordReset {
		return c.InterCallDelay
	}
	return c.RiskyCallDelay
}
