package buffer

import (
	"context"
	"sync"
)

// MemoryBuffer keeps queues in process memory. Used in tests and as a
// degraded mode when redis is not configured.
type MemoryBuffer struct {
	mu     sync.Mutex
	queues map[string][][]byte
	maxLen int
}

func NewMemoryBuffer(maxLen int) *MemoryBuffer {
	return &MemoryBuffer{queues: make(map[string][][]byte), maxLen: maxLen}
}

func (b *MemoryBuffer) Push(_ context.Context, userID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := append(b.queues[userID], payload)
	if len(q) > b.maxLen {
		q = q[len(q)-b.maxLen:]
	}
	b.queues[userID] = q
	return nil
}

func (b *MemoryBuffer) Drain(_ context.Context, userID string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[userID]
	delete(b.queues, userID)
	return q, nil
}

func (b *MemoryBuffer) Close() error {
	return nil
}
