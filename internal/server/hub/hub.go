// Package hub tracks live sessions per user and routes events to them.
// A user may hold several concurrent sessions (multiple devices); an
// event addressed to the user goes to all of them.
package hub

import "sync"

// Sender is one live session's outbound side. Send must be safe for
// concurrent use; the session serializes writes onto its connection.
type Sender interface {
	Send(payload []byte) error
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[Sender]struct{}
}

func New() *Hub {
	return &Hub{sessions: make(map[string]map[Sender]struct{})}
}

func (h *Hub) Register(userID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[userID]
	if !ok {
		set = make(map[Sender]struct{})
		h.sessions[userID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) Unregister(userID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[userID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, userID)
	}
}

// SendToUser delivers payload to every live session of userID. It
// reports whether at least one session accepted the payload.
func (h *Hub) SendToUser(userID string, payload []byte) bool {
	h.mu.RLock()
	set := h.sessions[userID]
	senders := make([]Sender, 0, len(set))
	for s := range set {
		senders = append(senders, s)
	}
	h.mu.RUnlock()

	delivered := false
	for _, s := range senders {
		if err := s.Send(payload); err == nil {
			delivered = true
		}
	}
	return delivered
}

// Online reports whether userID has at least one live session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}
