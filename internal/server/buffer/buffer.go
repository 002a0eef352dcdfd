// Package buffer holds events addressed to users with no live session.
// Buffered events are replayed in arrival order the next time the
// recipient joins, then discarded.
package buffer

import "context"

// Buffer stores opaque event payloads per recipient.
type Buffer interface {
	// Push appends payload to the recipient's queue. When the queue is
	// full the oldest entries are dropped to make room.
	Push(ctx context.Context, userID string, payload []byte) error
	// Drain returns all buffered payloads for userID in arrival order
	// and removes them. An empty queue yields a nil slice.
	Drain(ctx context.Context, userID string) ([][]byte, error)
	Close() error
}
