// Package pipeline moves records between the sampler, the rings and the
// uplink. Each ring gets one producer task filling it from an inbox and one
// consumer task draining it into a sink; Run supervises them as a group.
package pipeline

import (
	"sync/atomic"

	"github.com/ssargent/flashring/pkg/metrics"
)

// Inbox is the bounded hand-off between a context that must not block, such
// as a sampling interrupt, and the producer task owning a ring.
type Inbox[T any] struct {
	name    string
	ch      chan T
	dropped atomic.Uint64
	metrics *metrics.Metrics
}

// NewInbox creates an inbox holding up to size items.
func NewInbox[T any](name string, size int, m *metrics.Metrics) *Inbox[T] {
	if size <= 0 {
		size = 1
	}
	return &Inbox[T]{name: name, ch: make(chan T, size), metrics: m}
}

// Offer queues v without blocking. It reports false and counts a drop when
// the inbox is full.
func (i *Inbox[T]) Offer(v T) bool {
	select {
	case i.ch <- v:
		return true
	default:
		i.dropped.Add(1)
		i.metrics.RecordInboxDrop(i.name)
		return false
	}
}

// Dropped returns the number of items refused by Offer.
func (i *Inbox[T]) Dropped() uint64 {
	return i.dropped.Load()
}

// Len returns the number of queued items.
func (i *Inbox[T]) Len() int {
	return len(i.ch)
}

// Name returns the inbox name.
func (i *Inbox[T]) Name() string {
	return i.name
}
