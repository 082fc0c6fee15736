package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/metrics"
	"github.com/ssargent/flashring/pkg/ring"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRing(t *testing.T, pages int) *ring.Ring[codec.SampleBatch] {
	t.Helper()
	region := ring.Region{
		Name:              "samples",
		PageSize:          256,
		PagesPerSector:    4,
		PageCount:         pages,
		OverlapGuardPages: 4,
	}
	dev, err := blockdev.NewMemDevice(blockdev.Geometry{
		Size:       uint32(pages * 256),
		PageSize:   256,
		SectorSize: region.SectorSize(),
	})
	require.NoError(t, err)
	r, err := ring.New[codec.SampleBatch](region, dev, codec.NewSampleBatchCodec(), ring.Options{Logger: discard()})
	require.NoError(t, err)
	return r
}

// recorder is a sink keeping every accepted batch, refusing while failing is
// set.
type recorder struct {
	mu      sync.Mutex
	batches [][]codec.SampleBatch
	failing bool
}

func (r *recorder) Send(_ context.Context, batch []codec.SampleBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("uplink down")
	}
	r.batches = append(r.batches, append([]codec.SampleBatch(nil), batch...))
	return nil
}

func (r *recorder) sequences() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint32
	for _, b := range r.batches {
		for _, s := range b {
			out = append(out, s.Sequence)
		}
	}
	return out
}

func TestInbox_OfferNeverBlocks(t *testing.T) {
	reg := prometheus.NewRegistry()
	inbox := NewInbox[int]("samples", 2, metrics.New(reg))

	assert.True(t, inbox.Offer(1))
	assert.True(t, inbox.Offer(2))
	assert.False(t, inbox.Offer(3))
	assert.False(t, inbox.Offer(4))

	assert.Equal(t, 2, inbox.Len())
	assert.Equal(t, uint64(2), inbox.Dropped())
	assert.Equal(t, "samples", inbox.Name())

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "flashring_inbox_dropped_total", families[0].GetName())
	assert.Equal(t, 2.0, families[0].GetMetric()[0].GetCounter().GetValue())
}

func TestSampler_Next(t *testing.T) {
	now := int64(1000)
	clock := func() int64 {
		now += 100
		return now
	}
	s := NewSampler(NewInbox[codec.SampleBatch]("samples", 1, nil), SamplerOptions{Samples: 8, Seed: 7, Clock: clock})

	first := s.Next()
	second := s.Next()

	assert.Equal(t, uint32(0), first.Sequence)
	assert.Equal(t, uint32(1), second.Sequence)
	assert.Equal(t, int64(1100), first.CaptureTimestamp)
	assert.Equal(t, int64(1200), second.CaptureTimestamp)
	assert.Equal(t, int64(1100), second.PreviousCaptureTimestamp)
	assert.Equal(t, 8, second.Count())
	require.NoError(t, second.Validate())
}

func TestSampler_ClampsSamples(t *testing.T) {
	s := NewSampler(NewInbox[codec.SampleBatch]("samples", 1, nil), SamplerOptions{Samples: 500})
	assert.Equal(t, codec.MaxSamples, s.Next().Count())
}

func TestConsumer_TransmitBatches(t *testing.T) {
	r := sampleRing(t, 32)
	st := ring.NewState()
	s := NewSampler(NewInbox[codec.SampleBatch]("samples", 1, nil), SamplerOptions{Samples: 4})
	for i := 0; i < 10; i++ {
		_, err := r.Append(st, s.Next())
		require.NoError(t, err)
	}

	sink := &recorder{}
	c := NewConsumer[codec.SampleBatch](r, st, sink, ConsumerOptions{BatchSize: 4, Logger: discard()})

	sent, err := c.Transmit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, sent)
	assert.Len(t, sink.batches, 3)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sink.sequences())
	assert.Zero(t, r.Unread(st))
}

func TestConsumer_KeepsRefusedBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := sampleRing(t, 32)
	st := ring.NewState()
	s := NewSampler(NewInbox[codec.SampleBatch]("samples", 1, nil), SamplerOptions{Samples: 4})
	for i := 0; i < 6; i++ {
		_, err := r.Append(st, s.Next())
		require.NoError(t, err)
	}

	sink := &recorder{failing: true}
	c := NewConsumer[codec.SampleBatch](r, st, sink, ConsumerOptions{
		BatchSize: 4,
		Logger:    discard(),
		Metrics:   metrics.New(reg),
	})

	sent, err := c.Transmit(context.Background())
	require.Error(t, err)
	assert.Zero(t, sent)
	// The refused batch is still unread in flash.
	assert.Equal(t, 6, r.Unread(st))
	assert.Zero(t, st.Snapshot().Counters.Read)

	sink.failing = false
	sent, err = c.Transmit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, sent)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, sink.sequences())
	assert.Zero(t, r.Unread(st))
	assert.Equal(t, uint64(6), st.Snapshot().Counters.Read)
}

func TestConsumer_ShutdownKeepsUndelivered(t *testing.T) {
	r := sampleRing(t, 32)
	st := ring.NewState()
	s := NewSampler(NewInbox[codec.SampleBatch]("samples", 1, nil), SamplerOptions{Samples: 4})
	for i := 0; i < 10; i++ {
		_, err := r.Append(st, s.Next())
		require.NoError(t, err)
	}

	sink := &recorder{failing: true}
	c := NewConsumer[codec.SampleBatch](r, st, sink, ConsumerOptions{
		BatchSize: 8,
		Interval:  time.Millisecond,
		Logger:    discard(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	snap := st.Snapshot()
	assert.Equal(t, 10, r.Unread(st))
	assert.Zero(t, snap.Counters.Read)
	assert.Zero(t, snap.Counters.Dropped)

	// A later run delivers everything in order.
	sink.failing = false
	sent, err := c.Transmit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, sent)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sink.sequences())
}

func TestRun_EndToEnd(t *testing.T) {
	r := sampleRing(t, 64)
	st := ring.NewState()
	inbox := NewInbox[codec.SampleBatch]("samples", 8, nil)
	sampler := NewSampler(inbox, SamplerOptions{Interval: time.Millisecond, Samples: 4})
	producer := NewProducer[codec.SampleBatch](inbox, r, st, discard())
	sink := &recorder{}
	consumer := NewConsumer[codec.SampleBatch](r, st, sink, ConsumerOptions{
		BatchSize: 8,
		Interval:  2 * time.Millisecond,
		Logger:    discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, sampler.Run, producer.Run, consumer.Run) }()

	assert.Eventually(t, func() bool {
		return len(sink.sequences()) >= 20
	}, 10*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	// Whatever arrived, arrived in capture order.
	seqs := sink.sequences()
	for i := 1; i < len(seqs); i++ {
		assert.Less(t, seqs[i-1], seqs[i])
	}
}

func TestRun_FirstErrorCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})

	err := Run(context.Background(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		},
	)
	assert.True(t, errors.Is(err, boom))
	<-stopped
}
