package service

import (
	"errors"
	"testing"

	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoversEveryItemOnce(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 2, 9, 10, 11, 999, 1000, 1001, 2500} {
		for _, size := range []int{1, 3, 10, 1000} {
			items := emailItems(n)

			chunks, err := Partition(items, size)
			require.NoError(t, err)
			require.Len(t, chunks, (n+size-1)/size, "n=%d size=%d", n, size)

			var flat []domain.WorkItem
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.NotEmpty(t, c.Items)
				assert.LessOrEqual(t, len(c.Items), size)
				if i < len(chunks)-1 {
					assert.Len(t, c.Items, size)
				}
				flat = append(flat, c.Items...)
			}
			if n == 0 {
				assert.Empty(t, flat)
				continue
			}
			assert.Equal(t, items, flat, "n=%d size=%d", n, size)
		}
	}
}

func TestPartitionScenarioSizes(t *testing.T) {
	t.Parallel()

	chunks, err := Partition(emailItems(2500), 1000)
	require.NoError(t, err)

	sizes := make([]int, len(chunks))
	for i := range chunks {
		sizes[i] = len(chunks[i].Items)
	}
	assert.Equal(t, []int{1000, 1000, 500}, sizes)
}

func TestPartitionChunksDoNotAlias(t *testing.T) {
	t.Parallel()

	items := emailItems(4)
	chunks, err := Partition(items, 2)
	require.NoError(t, err)

	chunks[0].Items = append(chunks[0].Items, domain.WorkItem{Email: "extra@example.com"})
	assert.Equal(t, "user2@example.com", chunks[1].Items[0].Email)
	assert.Equal(t, "user2@example.com", items[2].Email)
}

func TestPartitionRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1} {
		_, err := Partition(emailItems(3), size)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Partition(size=%d) error = %v, want ErrValidation", size, err)
		}
	}
}
