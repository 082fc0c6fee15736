// Package ring implements a circular log of fixed size records over a region
// of raw NOR flash.
//
// Each record fills one page. The writer erases a sector only when it is
// about to enter it, so every append costs at most one sector erase and one
// page write. When the consumer falls behind, appends drop the oldest unread
// record instead of blocking, keeping a guard gap of erased or stale pages
// between the write and read cursors.
//
// Cursor state lives in a State value owned by the task driving the ring. The
// Ring itself is immutable and may be shared; every device access goes
// through the BlockDevice, which must be wrapped in blockdev.Locked when more
// than one goroutine uses the part.
package ring

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/metrics"
)

// Default retry bounds.
const (
	DefaultEraseAttempts = 3
	DefaultWriteAttempts = 4
	DefaultRetryDelay    = 5 * time.Millisecond
)

// Options tune a ring.
type Options struct {
	EraseAttempts int           // Attempts per sector erase on timeout
	WriteAttempts int           // Attempts per page write or read on timeout
	RetryDelay    time.Duration // Pause between attempts
	VerifyWrites  bool          // Read every written page back
	VerifyErase   bool          // Check the first page of every erased sector

	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	OnLevelChange LevelChangeFunc
}

// DefaultOptions returns the retry bounds used by the firmware.
func DefaultOptions() Options {
	return Options{
		EraseAttempts: DefaultEraseAttempts,
		WriteAttempts: DefaultWriteAttempts,
		RetryDelay:    DefaultRetryDelay,
	}
}

// AppendResult reports the outcome of an Append.
type AppendResult struct {
	Write   int // Write cursor after the append
	Dropped int // Unread records given up to make room
}

// Ring is a circular log of records of type T over one region.
type Ring[T codec.Record] struct {
	region  Region
	index   Index
	dev     blockdev.BlockDevice
	codec   codec.Codec[T]
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a ring over region of dev. The region must fit the device and
// use its page and sector sizes.
func New[T codec.Record](region Region, dev blockdev.BlockDevice, c codec.Codec[T], opts Options) (*Ring[T], error) {
	index, err := NewIndex(region)
	if err != nil {
		return nil, err
	}
	if err := region.Fits(dev.Geometry()); err != nil {
		return nil, err
	}
	if region.PageSize < codec.PageSize {
		return nil, errors.Wrapf(ErrInvalidRegionConfig, "%s: page size %d smaller than record size %d",
			region.Name, region.PageSize, codec.PageSize)
	}

	if opts.EraseAttempts <= 0 {
		opts.EraseAttempts = DefaultEraseAttempts
	}
	if opts.WriteAttempts <= 0 {
		opts.WriteAttempts = DefaultWriteAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ring[T]{
		region:  region,
		index:   index,
		dev:     dev,
		codec:   c,
		opts:    opts,
		logger:  logger.With("component", "ring", "region", region.Name),
		metrics: opts.Metrics,
	}, nil
}

// Region returns the ring's geometry.
func (r *Ring[T]) Region() Region {
	return r.region
}

// Index returns the ring's index arithmetic.
func (r *Ring[T]) Index() Index {
	return r.index
}

// Append writes rec at the write cursor.
//
// When the ring already holds Capacity unread pages, the oldest unread record
// is dropped first. The sector under the write cursor is erased when the
// cursor sits on its first page. A record that cannot be encoded returns
// codec.ErrInvalidRecord without touching the device. A device failure loses
// the record, counts a write failure and returns an error marked ErrFlashIO or
// ErrEraseFailed; Append never retries past its attempt bounds.
func (r *Ring[T]) Append(st *State, rec T) (AppendResult, error) {
	page, err := r.codec.Encode(rec)
	if err != nil {
		return AppendResult{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	dropped := 0
	if r.index.Distance(st.read, st.write) >= r.region.Capacity() {
		st.read = r.index.Advance(st.read, 1)
		st.consumed++
		dropped++
	}

	r.noteDropped(st, dropped)

	if err := r.ensureErased(st); err != nil {
		st.counters.EraseFailures++
		st.counters.WriteFailures++
		r.metrics.RecordEraseFailure(r.region.Name)
		r.metrics.RecordWriteFailure(r.region.Name)
		r.logger.Error("sector erase failed, record lost", "page", st.write, "error", err)
		r.settle(st, dropped)
		return AppendResult{Write: st.write, Dropped: dropped}, err
	}

	p := st.write
	burnt, err := r.program(p, page)
	if err != nil {
		if burnt {
			st.markBurnt(p)
			st.write = r.index.Advance(p, 1)
		}
		st.counters.WriteFailures++
		r.metrics.RecordWriteFailure(r.region.Name)
		r.logger.Error("page write failed, record lost", "page", p, "skipped", burnt, "error", err)
		r.settle(st, dropped)
		return AppendResult{Write: st.write, Dropped: dropped},
			errors.Mark(errors.Wrapf(err, "write %s page", r.region.Name), ErrFlashIO)
	}

	st.write = r.index.Advance(p, 1)
	st.counters.Appended++
	r.metrics.RecordAppend(r.region.Name)
	r.settle(st, dropped)

	return AppendResult{Write: st.write, Dropped: dropped}, nil
}

// ReadNext returns the record at the read cursor and advances past it. ok is
// false with a nil error when no unread records remain. Inactive pages between
// the cursors, left by failed writes or manual erases, are skipped, as are
// pages whose write failed even if the data landed. A page that cannot be read
// is skipped too, and its error is returned for this call only.
func (r *Ring[T]) ReadNext(st *State) (rec T, ok bool, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	skipped := 0
	defer func() { r.noteConsumed(st, skipped) }()

	buf := make([]byte, r.region.PageSize)
	for st.read != st.write {
		p := st.read
		st.read = r.index.Advance(p, 1)
		st.consumed++

		if st.isBurnt(p) {
			skipped++
			continue
		}
		if err := r.readPage(r.index.ToAddress(p), buf); err != nil {
			st.counters.ReadFailures++
			r.metrics.RecordReadFailure(r.region.Name)
			r.logger.Warn("unreadable page skipped", "page", p, "error", err)
			return rec, false, errors.Mark(errors.Wrapf(err, "read %s page %d", r.region.Name, p), ErrFlashIO)
		}
		decoded, active := r.codec.Decode(buf)
		if !active {
			skipped++
			continue
		}
		st.counters.Read++
		r.metrics.RecordRead(r.region.Name)
		return decoded, true, nil
	}
	return rec, false, nil
}

// ReadAt decodes logical page i without moving any cursor. ok is false when
// the page is inactive.
func (r *Ring[T]) ReadAt(i int) (rec T, ok bool, err error) {
	if i < 0 || i >= r.region.PageCount {
		return rec, false, errors.Wrapf(ErrOutOfRange, "%s page %d of %d", r.region.Name, i, r.region.PageCount)
	}
	buf := make([]byte, r.region.PageSize)
	if err := r.readPage(r.index.ToAddress(i), buf); err != nil {
		return rec, false, errors.Mark(errors.Wrapf(err, "read %s page %d", r.region.Name, i), ErrFlashIO)
	}
	rec, ok = r.codec.Decode(buf)
	return rec, ok, nil
}

// Unread returns the distance between the cursors of st.
func (r *Ring[T]) Unread(st *State) int {
	read, write := st.Cursors()
	return r.index.Distance(read, write)
}

// program writes one page with bounded retries on timeout. burnt reports that
// the page may hold partial data and must not be programmed again before its
// sector is erased.
func (r *Ring[T]) program(p int, page []byte) (burnt bool, err error) {
	addr := r.index.ToAddress(p)
	for attempt := 1; ; attempt++ {
		err = r.dev.WritePage(addr, page)
		if err == nil && r.opts.VerifyWrites {
			if verr := r.verifyPage(addr, page); verr != nil {
				r.metrics.RecordWriteAttempt(r.region.Name, attempt, false)
				return true, verr
			}
		}
		r.metrics.RecordWriteAttempt(r.region.Name, attempt, err == nil)
		if err == nil {
			return false, nil
		}
		if !blockdev.Retryable(err) {
			return !errors.Is(err, blockdev.ErrWriteProtected), err
		}
		if attempt >= r.opts.WriteAttempts {
			return false, errors.Wrapf(err, "gave up after %d attempts", attempt)
		}
		r.logger.Debug("page write timed out, retrying", "page", p, "attempt", attempt)
		r.pause()
	}
}

func (r *Ring[T]) verifyPage(addr uint32, want []byte) error {
	got := make([]byte, len(want))
	if err := r.dev.ReadPage(addr, got); err != nil {
		return errors.Wrapf(errVerify, "read back 0x%x: %v", addr, err)
	}
	if !bytes.Equal(got, want) {
		return errors.Wrapf(errVerify, "page 0x%x", addr)
	}
	return nil
}

// readPage reads a whole page with bounded retries on timeout.
func (r *Ring[T]) readPage(addr uint32, buf []byte) error {
	var err error
	for attempt := 1; attempt <= r.opts.WriteAttempts; attempt++ {
		if err = r.dev.ReadPage(addr, buf); err == nil || !blockdev.Retryable(err) {
			return err
		}
		r.pause()
	}
	return err
}

func (r *Ring[T]) pause() {
	if r.opts.RetryDelay > 0 {
		time.Sleep(r.opts.RetryDelay)
	}
}

// noteConsumed counts pages passed over by the consumer and re-evaluates the
// backpressure level.
func (r *Ring[T]) noteConsumed(st *State, skipped int) {
	if skipped > 0 {
		st.counters.Skipped += uint64(skipped)
		r.metrics.RecordSkipped(r.region.Name, skipped)
	}
	distance := r.index.Distance(st.read, st.write)
	r.setLevel(st, afterRead(r.region, distance))
	r.metrics.SetUnread(r.region.Name, distance)
}

func (r *Ring[T]) noteDropped(st *State, dropped int) {
	if dropped == 0 {
		return
	}
	st.counters.Dropped += uint64(dropped)
	r.metrics.RecordDropped(r.region.Name, dropped)
	r.logger.Warn("unread records dropped", "dropped", dropped, "read", st.read, "write", st.write)
}

// settle reclassifies the level after an append.
func (r *Ring[T]) settle(st *State, dropped int) {
	distance := r.index.Distance(st.read, st.write)
	r.setLevel(st, afterAppend(r.region, st.level, distance, dropped))
	r.metrics.SetUnread(r.region.Name, distance)
}

func (r *Ring[T]) setLevel(st *State, level Level) {
	if st.level == level {
		return
	}
	from := st.level
	st.level = level
	r.metrics.SetLevel(r.region.Name, int(level), level.String())
	r.logger.Info("backpressure level changed", "from", from.String(), "to", level.String(),
		"unread", r.index.Distance(st.read, st.write))
	if r.opts.OnLevelChange != nil {
		r.opts.OnLevelChange(r.region.Name, from, level)
	}
}
