package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/metrics"
	"github.com/ssargent/flashring/pkg/ring"
)

// DefaultBatchSize is the number of records per uplink batch.
const DefaultBatchSize = 16

// Task is a long running loop that returns when its context is done.
type Task func(ctx context.Context) error

// Run starts every task and waits for all of them. The first task to fail
// cancels the others and its error is returned.
func Run(ctx context.Context, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}

// Producer appends everything offered to its inbox to a ring.
type Producer[T codec.Record] struct {
	inbox  *Inbox[T]
	ring   *ring.Ring[T]
	state  *ring.State
	logger *slog.Logger
}

// NewProducer creates the producer task for r.
func NewProducer[T codec.Record](inbox *Inbox[T], r *ring.Ring[T], st *ring.State, logger *slog.Logger) *Producer[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer[T]{
		inbox:  inbox,
		ring:   r,
		state:  st,
		logger: logger.With("component", "producer", "region", r.Region().Name),
	}
}

// Run appends queued records until ctx is done, then appends whatever is
// still queued. A record that cannot be written is lost; the ring has
// already counted it.
func (p *Producer[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-p.inbox.ch:
					p.append(rec)
				default:
					return nil
				}
			}
		case rec := <-p.inbox.ch:
			p.append(rec)
		}
	}
}

func (p *Producer[T]) append(rec T) {
	if _, err := p.ring.Append(p.state, rec); err != nil {
		p.logger.Warn("record lost", "error", err)
	}
}

// Sink is the uplink receiving batches of records.
type Sink[T any] interface {
	Send(ctx context.Context, batch []T) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[T any] func(ctx context.Context, batch []T) error

// Send calls f.
func (f SinkFunc[T]) Send(ctx context.Context, batch []T) error {
	return f(ctx, batch)
}

// LogSink returns a sink that only logs the batches it receives.
func LogSink[T codec.Record](logger *slog.Logger) Sink[T] {
	return SinkFunc[T](func(_ context.Context, batch []T) error {
		if len(batch) > 0 {
			logger.Info("batch sent", "records", len(batch),
				"first", batch[0].Stamp(), "last", batch[len(batch)-1].Stamp())
		}
		return nil
	})
}

// ConsumerOptions tune a consumer.
type ConsumerOptions struct {
	BatchSize int           // Records per batch
	Interval  time.Duration // Time between transmit windows
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Consumer drains a ring into a sink in batches. Records leave the ring only
// once the sink has accepted them; a refused batch stays unread in flash and
// is offered again in the next window.
type Consumer[T codec.Record] struct {
	ring   *ring.Ring[T]
	state  *ring.State
	sink   Sink[T]
	opts   ConsumerOptions
	logger *slog.Logger
}

// NewConsumer creates the consumer task for r.
func NewConsumer[T codec.Record](r *ring.Ring[T], st *ring.State, sink Sink[T], opts ConsumerOptions) *Consumer[T] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer[T]{
		ring:   r,
		state:  st,
		sink:   sink,
		opts:   opts,
		logger: logger.With("component", "consumer", "region", r.Region().Name),
	}
}

// Run opens a transmit window every interval until ctx is done.
func (c *Consumer[T]) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Transmit(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("transmit window ended early", "error", err, "unread", c.ring.Unread(c.state))
			}
		}
	}
}

// Transmit sends batches until the ring is drained and returns the number of
// records the sink accepted. It stops at the first batch the sink refuses.
func (c *Consumer[T]) Transmit(ctx context.Context) (int, error) {
	sent := 0
	for {
		batch := c.ring.Peek(c.state, c.opts.BatchSize)
		if batch.Pages() == 0 {
			return sent, nil
		}
		if len(batch.Records) > 0 {
			if err := c.sink.Send(ctx, batch.Records); err != nil {
				c.opts.Metrics.RecordBatchSent(c.ring.Region().Name, false)
				return sent, errors.Wrapf(err, "send %d records", len(batch.Records))
			}
			c.opts.Metrics.RecordBatchSent(c.ring.Region().Name, true)
			sent += len(batch.Records)
		}
		c.ring.Commit(c.state, batch)
	}
}
