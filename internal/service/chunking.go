package service

import (
	"fmt"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

// Partition splits items into ceil(N/size) ordered chunks. Chunk i holds
// items[i*size : min((i+1)*size, N)].
func Partition(items []domain.WorkItem, size int) ([]domain.Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrValidation, size)
	}

	chunks := make([]domain.Chunk, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, domain.Chunk{
			Index: len(chunks),
			Items: items[start:end:end],
		})
	}
	return chunks, nil
}
