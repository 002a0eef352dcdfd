// Package status implements the per-message delivery state machine.
//
// A message instance moves pending → sent → delivered → read. The extra
// terminal state failed is reachable from pending only (retry budget
// exhausted). Transitions never regress and re-applying the current state
// is a no-op, so status events are safe to apply in any arrival order.
package status

// Status is the lifecycle state of one message instance.
type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

var ranks = map[Status]int{
	Pending:   0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// Valid reports whether s is a known status value.
func Valid(s Status) bool {
	if s == Failed {
		return true
	}
	_, ok := ranks[s]
	return ok
}

// Rank returns the forward-progress rank of s. Failed has no rank.
func Rank(s Status) (int, bool) {
	r, ok := ranks[s]
	return r, ok
}

// Apply returns the state after applying next to current, and whether the
// state changed. Regressions and repeats leave current untouched. Failed is
// accepted from pending only and is terminal.
func Apply(current, next Status) (Status, bool) {
	if current == Failed {
		return current, false
	}
	if next == Failed {
		if current == Pending {
			return Failed, true
		}
		return current, false
	}

	cur, ok := ranks[current]
	if !ok {
		return current, false
	}
	nxt, ok := ranks[next]
	if !ok {
		return current, false
	}
	if nxt <= cur {
		return current, false
	}
	return next, true
}

// Prior returns the statuses a message may hold immediately before moving
// to target. Used to build guarded SQL updates.
func Prior(target Status) []Status {
	switch target {
	case Sent:
		return []Status{Pending}
	case Delivered:
		return []Status{Pending, Sent}
	case Read:
		return []Status{Pending, Sent, Delivered}
	case Failed:
		return []Status{Pending}
	default:
		return nil
	}
}
