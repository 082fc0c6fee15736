// Package eventlog keeps the device's diagnostic event log in the event ring.
//
// Events are first recorded into a bounded holding buffer in RAM, which never
// touches flash and so may be used from any context. A flush moves the held
// events into the ring. When the holding buffer fills before it is flushed the
// oldest held event is lost.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/metrics"
	"github.com/ssargent/flashring/pkg/ring"
)

// DefaultHoldingSize is the number of events held between flushes.
const DefaultHoldingSize = 64

// Options tune an event log.
type Options struct {
	HoldingSize int          // Events held in RAM between flushes
	Clock       func() int64 // Timestamp source in milliseconds, Unix time when nil

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Log is the diagnostic event log.
type Log struct {
	ring    *ring.Ring[codec.LogEntry]
	state   *ring.State
	clock   func() int64
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	holding []codec.LogEntry
	next    int // Next holding slot to fill
	oldest  int // Oldest held slot, -1 when empty
	lost    uint64
}

// New creates an event log over r driven by st.
func New(r *ring.Ring[codec.LogEntry], st *ring.State, opts Options) *Log {
	size := opts.HoldingSize
	if size <= 0 {
		size = DefaultHoldingSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Log{
		ring:    r,
		state:   st,
		clock:   clock,
		logger:  logger.With("component", "eventlog"),
		metrics: opts.Metrics,
		holding: make([]codec.LogEntry, size),
		oldest:  -1,
	}
}

// Open recovers the ring cursors from flash and returns the log together with
// the scan the recovery was based on.
func Open(r *ring.Ring[codec.LogEntry], opts Options) (*Log, ring.Summary) {
	st := ring.NewState()
	summary := r.Recover(st)
	return New(r, st, opts), summary
}

// Ring returns the ring holding the log.
func (l *Log) Ring() *ring.Ring[codec.LogEntry] {
	return l.ring
}

// State returns the cursor state of the log ring.
func (l *Log) State() *ring.State {
	return l.state
}

// Record holds an event of the given kind stamped with the current time.
func (l *Log) Record(kind codec.Kind, text string) {
	l.hold(codec.LogEntry{Timestamp: l.clock(), Kind: kind, Text: codec.TruncateText(text)})
}

// Info holds an information event.
func (l *Log) Info(format string, args ...any) {
	l.Record(codec.KindInfo, fmt.Sprintf(format, args...))
}

// Error holds an error event.
func (l *Log) Error(format string, args ...any) {
	l.Record(codec.KindError, fmt.Sprintf(format, args...))
}

func (l *Log) hold(e codec.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.next == l.oldest {
		// Full: the oldest held event makes room.
		l.oldest = (l.oldest + 1) % len(l.holding)
		l.lost++
		l.metrics.RecordInboxDrop("holding")
	}
	l.holding[l.next] = e
	if l.oldest < 0 {
		l.oldest = l.next
	}
	l.next = (l.next + 1) % len(l.holding)
	l.metrics.RecordEvent(e.Kind.String())
}

// Held returns the number of events waiting for a flush.
func (l *Log) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldLocked()
}

func (l *Log) heldLocked() int {
	if l.oldest < 0 {
		return 0
	}
	if n := (l.next - l.oldest + len(l.holding)) % len(l.holding); n != 0 {
		return n
	}
	return len(l.holding)
}

// Lost returns the number of held events overwritten before a flush.
func (l *Log) Lost() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

// Flush appends every held event to the ring, oldest first, and returns the
// number written. An event whose append fails is lost; the flush carries on
// with the rest and returns the combined errors.
func (l *Log) Flush() (int, error) {
	entries := l.take()

	written := 0
	var errs error
	for _, e := range entries {
		if _, err := l.ring.Append(l.state, e); err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		written++
	}
	if errs != nil {
		l.logger.Warn("event log flush incomplete", "written", written, "lost", len(entries)-written)
	}
	return written, errs
}

func (l *Log) take() []codec.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.heldLocked()
	entries := make([]codec.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, l.holding[(l.oldest+i)%len(l.holding)])
	}
	l.oldest = -1
	return entries
}

// Run flushes the holding buffer every interval until ctx is done, then
// flushes once more.
func (l *Log) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := l.Flush(); err != nil {
				l.logger.Error("final event log flush failed", "error", err)
			}
			return nil
		case <-ticker.C:
			if _, err := l.Flush(); err != nil {
				l.logger.Error("event log flush failed", "error", err)
			}
		}
	}
}
