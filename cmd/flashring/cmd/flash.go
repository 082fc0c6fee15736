package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/config"
	"github.com/ssargent/flashring/pkg/eventlog"
	"github.com/ssargent/flashring/pkg/metrics"
	"github.com/ssargent/flashring/pkg/ring"
)

// flash is everything a command needs: the device image, both rings with
// their recovered cursors and the event log.
type flash struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	image  *blockdev.PebbleDevice
	faulty *blockdev.Faulty // nil unless faults are injected

	samples   *ring.Ring[codec.SampleBatch]
	sampleSt  *ring.State
	events    *eventlog.Log
	recovered map[string]ring.Summary
}

// openFlash opens the device image and recovers both rings. A positive
// faultRate injects random device faults into that share of commands.
func openFlash(cfg *config.Config, base *slog.Logger, faultRate float64, seed int64) (*flash, error) {
	image, err := blockdev.OpenPebble(blockdev.PebbleConfig{
		Path:     cfg.Device.Path,
		Geometry: cfg.Device.Geometry(),
		Sync:     cfg.Device.Sync,
	})
	if err != nil {
		return nil, err
	}

	f := &flash{
		cfg:       cfg,
		registry:  prometheus.NewRegistry(),
		image:     image,
		recovered: make(map[string]ring.Summary, 2),
	}
	f.metrics = metrics.New(f.registry)

	var dev blockdev.BlockDevice = image
	if faultRate > 0 {
		f.faulty = blockdev.NewFaulty(image, blockdev.RandomInjector(rand.New(rand.NewSource(seed)), faultRate))
		dev = f.faulty
	}
	dev = blockdev.NewLocked(dev)

	opts := cfg.Retry.Options()
	opts.Logger = base
	opts.Metrics = f.metrics

	eventRing, err := ring.New[codec.LogEntry](cfg.Regions.Events, dev, codec.NewLogEntryCodec(), opts)
	if err != nil {
		_ = image.Close()
		return nil, err
	}
	var summary ring.Summary
	f.events, summary = eventlog.Open(eventRing, eventlog.Options{
		HoldingSize: cfg.Pipeline.HoldingSize,
		Logger:      base,
		Metrics:     f.metrics,
	})
	f.recovered[cfg.Regions.Events.Name] = summary

	// Backpressure transitions of the sample ring go to the event log, as
	// the device does.
	sampleOpts := opts
	sampleOpts.OnLevelChange = func(region string, from, to ring.Level) {
		kind := codec.KindInfo
		if to == ring.LevelOverwriting {
			kind = codec.KindError
		}
		f.events.Record(kind, fmt.Sprintf("%s backpressure %s -> %s", region, from, to))
	}
	f.samples, err = ring.New[codec.SampleBatch](cfg.Regions.Samples, dev, codec.NewSampleBatchCodec(), sampleOpts)
	if err != nil {
		_ = image.Close()
		return nil, err
	}
	f.sampleSt = ring.NewState()
	f.recovered[cfg.Regions.Samples.Name] = f.samples.Recover(f.sampleSt)

	// Warnings and errors raised from here on are also kept in flash.
	f.logger = slog.New(eventlog.NewHandler(f.events, slog.LevelWarn, base.Handler()))
	return f, nil
}

// regions returns both rings for the diagnostics front ends.
func (f *flash) regions() []ring.Diagnostics {
	return []ring.Diagnostics{
		f.samples.Diagnostics(f.sampleSt),
		f.events.Ring().Diagnostics(f.events.State()),
	}
}

// region looks a ring up by name.
func (f *flash) region(name string) (ring.Diagnostics, error) {
	var names []string
	for _, r := range f.regions() {
		if r.Name() == name {
			return r, nil
		}
		names = append(names, r.Name())
	}
	return nil, errors.Newf("unknown region %q (have %s)", name, strings.Join(names, ", "))
}

// Close flushes the held events and closes the device image.
func (f *flash) Close() error {
	var errs error
	if _, err := f.events.Flush(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "flush event log"))
	}
	if err := f.image.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "close device image"))
	}
	return errs
}

// newLogger builds the base logger from the logging settings.
func newLogger(cfg config.Logging, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
