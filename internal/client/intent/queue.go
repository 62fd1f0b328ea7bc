// Package intent is a write-ahead queue for optimistic local mutations.
// A mutation is recorded as pending before its request is sent and is then
// settled as confirmed or failed when the response arrives, so local state is
// rebuilt from what the server accepted instead of trusting the optimistic write.
package intent

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// State of an intent.
type State int

const (
	Pending State = iota
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrUnknownIntent is returned when settling an id that is not pending.
var ErrUnknownIntent = errors.New("intent not pending")

// Intent is one recorded mutation.
type Intent[T any] struct {
	ID        string
	Op        T
	State     State
	Err       error
	CreatedAt time.Time
	SettledAt time.Time
}

// Queue holds pending intents in submission order. Safe for concurrent use.
type Queue[T any] struct {
	mu      sync.Mutex
	next    uint64
	pending []*Intent[T]
	now     func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{now: time.Now}
}

// Enqueue records op as pending and returns its id.
func (q *Queue[T]) Enqueue(op T) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	in := &Intent[T]{
		ID:        "intent-" + strconv.FormatUint(q.next, 10),
		Op:        op,
		State:     Pending,
		CreatedAt: q.now(),
	}
	q.pending = append(q.pending, in)
	return in.ID
}

// Confirm settles id as accepted by the server.
func (q *Queue[T]) Confirm(id string) (Intent[T], error) {
	return q.settle(id, Confirmed, nil)
}

// Fail settles id as rejected.
func (q *Queue[T]) Fail(id string, cause error) (Intent[T], error) {
	return q.settle(id, Failed, cause)
}

func (q *Queue[T]) settle(id string, state State, cause error) (Intent[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, in := range q.pending {
		if in.ID != id {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		in.State = state
		in.Err = cause
		in.SettledAt = q.now()
		return *in, nil
	}
	return Intent[T]{}, ErrUnknownIntent
}

// Pending returns a snapshot of pending intents, oldest first.
func (q *Queue[T]) Pending() []Intent[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Intent[T], len(q.pending))
	for i, in := range q.pending {
		out[i] = *in
	}
	return out
}

// Rewrite replaces the op of every pending intent with fn(op).
func (q *Queue[T]) Rewrite(fn func(T) T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, in := range q.pending {
		in.Op = fn(in.Op)
	}
}

// Len returns the number of pending intents.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear drops every pending intent.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}
