// Package buffer holds the append-and-drain containers shared between the
// scanning loop and the display.
//
// A Buffer has one producer calling Append and one consumer calling Drain.
// Drain hands over everything appended since the previous Drain and leaves the
// buffer empty, so nothing is lost or seen twice.
package buffer

import (
	"strings"
	"sync"
)

type Buffer[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped int
}

// New returns an empty buffer. With limit > 0 the buffer keeps at most limit
// items and drops the oldest ones when a slow consumer lets it fill up.
func New[T any](limit int) *Buffer[T] {
	return &Buffer[T]{limit: limit}
}

func (b *Buffer[T]) Append(items ...T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, items...)
	if b.limit > 0 && len(b.items) > b.limit {
		over := len(b.items) - b.limit
		b.dropped += over
		b.items = append(b.items[:0:0], b.items[over:]...)
	}
}

// Drain returns the accumulated items and resets the buffer. The returned
// slice is owned by the caller.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	b.items = nil
	return out
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many items were discarded because of the limit.
func (b *Buffer[T]) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Text accumulates transcript fragments.
type Text struct {
	buf Buffer[string]
}

func NewText() *Text {
	return &Text{}
}

// Append adds a fragment. Empty fragments are ignored.
func (t *Text) Append(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	t.buf.Append(fragment)
}

// Drain returns the fragments appended since the last call joined by single
// spaces, or "" when there were none.
func (t *Text) Drain() string {
	return strings.Join(t.buf.Drain(), " ")
}

func (t *Text) Len() int {
	return t.buf.Len()
}
