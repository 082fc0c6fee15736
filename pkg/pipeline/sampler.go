package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/ssargent/flashring/pkg/codec"
)

// SamplerOptions tune the synthetic sampler.
type SamplerOptions struct {
	Interval time.Duration // Time between batches, one FIFO drain each
	Samples  int           // Samples per axis, at most codec.MaxSamples
	Seed     int64
	Clock    func() int64 // Capture timestamps in milliseconds, Unix time when nil
}

// Sampler stands in for the accelerometer interrupt, offering one sample
// batch per interval to an inbox.
type Sampler struct {
	inbox    *Inbox[codec.SampleBatch]
	opts     SamplerOptions
	rng      *rand.Rand
	sequence uint32
	previous int64
}

// NewSampler creates a sampler feeding inbox.
func NewSampler(inbox *Inbox[codec.SampleBatch], opts SamplerOptions) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Samples <= 0 || opts.Samples > codec.MaxSamples {
		opts.Samples = codec.MaxSamples
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	return &Sampler{inbox: inbox, opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}
}

// Next captures one batch.
func (s *Sampler) Next() codec.SampleBatch {
	now := s.opts.Clock()
	batch := codec.SampleBatch{
		Sequence:                 s.sequence,
		CaptureTimestamp:         now,
		PreviousCaptureTimestamp: s.previous,
		X:                        s.axis(),
		Y:                        s.axis(),
		Z:                        s.axis(),
	}
	s.sequence++
	s.previous = now
	return batch
}

func (s *Sampler) axis() []int8 {
	values := make([]int8, s.opts.Samples)
	for i := range values {
		values[i] = int8(s.rng.Intn(256) - 128)
	}
	return values
}

// Run offers a batch every interval until ctx is done. Batches the inbox
// refuses are lost, as they would be on the device.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.inbox.Offer(s.Next())
		}
	}
}
