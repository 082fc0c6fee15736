// Package metrics holds the Prometheus collectors for the flash rings and the
// pipeline feeding them. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all ring and pipeline metrics
type Metrics struct {
	// Producer metrics
	appendsTotal       *prometheus.CounterVec
	droppedTotal       *prometheus.CounterVec
	writeFailuresTotal *prometheus.CounterVec
	writeAttemptsTotal *prometheus.CounterVec

	// Erase scheduler metrics
	eraseFailuresTotal *prometheus.CounterVec
	eraseAttemptsTotal *prometheus.CounterVec

	// Consumer metrics
	readsTotal        *prometheus.CounterVec
	readFailuresTotal *prometheus.CounterVec
	skippedPagesTotal *prometheus.CounterVec
	unreadPages       *prometheus.GaugeVec
	backpressureLevel *prometheus.GaugeVec
	levelChangesTotal *prometheus.CounterVec

	// Pipeline metrics
	inboxDroppedTotal *prometheus.CounterVec
	batchesSentTotal  *prometheus.CounterVec
	eventsTotal       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		appendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_appends_total",
				Help: "Total number of records written to a ring",
			},
			[]string{"region"},
		),

		droppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_dropped_records_total",
				Help: "Total number of unread records dropped by backpressure",
			},
			[]string{"region"},
		),

		writeFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_write_failures_total",
				Help: "Total number of records lost to write failures",
			},
			[]string{"region"},
		),

		writeAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_write_attempts_total",
				Help: "Page write attempts by attempt number and outcome",
			},
			[]string{"region", "attempt", "status"},
		),

		eraseFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_erase_failures_total",
				Help: "Total number of sector erases that exhausted their attempts",
			},
			[]string{"region"},
		),

		eraseAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_erase_attempts_total",
				Help: "Sector erase attempts by attempt number and outcome",
			},
			[]string{"region", "attempt", "status"},
		),

		readsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_reads_total",
				Help: "Total number of records consumed from a ring",
			},
			[]string{"region"},
		),

		readFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_read_failures_total",
				Help: "Total number of unreadable pages met by the consumer",
			},
			[]string{"region"},
		),

		skippedPagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_skipped_pages_total",
				Help: "Total number of inactive pages skipped by the consumer",
			},
			[]string{"region"},
		),

		unreadPages: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flashring_unread_pages",
				Help: "Distance between the read and write cursors",
			},
			[]string{"region"},
		),

		backpressureLevel: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flashring_backpressure_level",
				Help: "Backpressure level: 0 normal, 1 warning, 2 overwriting",
			},
			[]string{"region"},
		),

		levelChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_backpressure_transitions_total",
				Help: "Backpressure level transitions by target level",
			},
			[]string{"region", "level"},
		),

		inboxDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_inbox_dropped_total",
				Help: "Items rejected because the hand-off inbox was full",
			},
			[]string{"inbox"},
		),

		batchesSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_uplink_batches_total",
				Help: "Batches handed to the uplink sink by outcome",
			},
			[]string{"region", "status"},
		),

		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashring_events_total",
				Help: "Diagnostic events recorded by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordAppend records a record written to a ring
func (m *Metrics) RecordAppend(region string) {
	if m == nil {
		return
	}
	m.appendsTotal.WithLabelValues(region).Inc()
}

// RecordDropped records unread records given up to backpressure
func (m *Metrics) RecordDropped(region string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedTotal.WithLabelValues(region).Add(float64(n))
}

// RecordWriteAttempt records the outcome of one page write attempt
func (m *Metrics) RecordWriteAttempt(region string, attempt int, success bool) {
	if m == nil {
		return
	}
	m.writeAttemptsTotal.WithLabelValues(region, strconv.Itoa(attempt), status(success)).Inc()
}

// RecordWriteFailure records a record lost to a failed write
func (m *Metrics) RecordWriteFailure(region string) {
	if m == nil {
		return
	}
	m.writeFailuresTotal.WithLabelValues(region).Inc()
}

// RecordEraseAttempt records the outcome of one sector erase attempt
func (m *Metrics) RecordEraseAttempt(region string, attempt int, success bool) {
	if m == nil {
		return
	}
	m.eraseAttemptsTotal.WithLabelValues(region, strconv.Itoa(attempt), status(success)).Inc()
}

// RecordEraseFailure records a sector erase that gave up
func (m *Metrics) RecordEraseFailure(region string) {
	if m == nil {
		return
	}
	m.eraseFailuresTotal.WithLabelValues(region).Inc()
}

// RecordRead records a record consumed from a ring
func (m *Metrics) RecordRead(region string) {
	if m == nil {
		return
	}
	m.readsTotal.WithLabelValues(region).Inc()
}

// RecordReadFailure records an unreadable page
func (m *Metrics) RecordReadFailure(region string) {
	if m == nil {
		return
	}
	m.readFailuresTotal.WithLabelValues(region).Inc()
}

// RecordSkipped records inactive pages passed over by the consumer
func (m *Metrics) RecordSkipped(region string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skippedPagesTotal.WithLabelValues(region).Add(float64(n))
}

// SetUnread updates the unread page gauge
func (m *Metrics) SetUnread(region string, pages int) {
	if m == nil {
		return
	}
	m.unreadPages.WithLabelValues(region).Set(float64(pages))
}

// SetLevel updates the backpressure gauge and counts the transition
func (m *Metrics) SetLevel(region string, level int, name string) {
	if m == nil {
		return
	}
	m.backpressureLevel.WithLabelValues(region).Set(float64(level))
	m.levelChangesTotal.WithLabelValues(region, name).Inc()
}

// RecordInboxDrop records an item the inbox could not accept
func (m *Metrics) RecordInboxDrop(inbox string) {
	if m == nil {
		return
	}
	m.inboxDroppedTotal.WithLabelValues(inbox).Inc()
}

// RecordBatchSent records a batch handed to the uplink
func (m *Metrics) RecordBatchSent(region string, success bool) {
	if m == nil {
		return
	}
	m.batchesSentTotal.WithLabelValues(region, status(success)).Inc()
}

// RecordEvent records a diagnostic event
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func status(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}
