package ring

import (
	"github.com/cockroachdb/errors"

	"github.com/ssargent/flashring/pkg/blockdev"
)

// ensureErased erases the sector starting at the write cursor, if the cursor
// sits on a sector boundary. The guard gap is at least a sector, so the read
// cursor is never inside it.
func (r *Ring[T]) ensureErased(st *State) error {
	pps := r.region.PagesPerSector
	if st.write%pps != 0 {
		return nil
	}
	if err := r.eraseSector(r.index.ToAddress(st.write)); err != nil {
		return err
	}
	st.clearBurnt(st.write, pps)
	return nil
}

// eraseSector erases one sector with bounded retries on timeout. The returned
// error is marked ErrEraseFailed.
func (r *Ring[T]) eraseSector(addr uint32) error {
	var err error
	for attempt := 1; attempt <= r.opts.EraseAttempts; attempt++ {
		err = r.dev.EraseSector(addr)
		if err == nil && r.opts.VerifyErase {
			err = r.verifyErased(addr)
		}
		r.metrics.RecordEraseAttempt(r.region.Name, attempt, err == nil)
		if err == nil {
			return nil
		}
		if !blockdev.Retryable(err) && !errors.Is(err, errVerify) {
			break
		}
		r.logger.Debug("sector erase failed, retrying", "address", addr, "attempt", attempt, "error", err)
		r.pause()
	}
	return errors.Mark(errors.Wrapf(err, "erase %s sector 0x%x", r.region.Name, addr), ErrEraseFailed)
}

// verifyErased checks that the first page of the sector at addr reads erased.
func (r *Ring[T]) verifyErased(addr uint32) error {
	buf := make([]byte, r.region.PageSize)
	if err := r.readPage(addr, buf); err != nil {
		return errors.Wrapf(errVerify, "read back sector 0x%x: %v", addr, err)
	}
	if !blockdev.IsErased(buf) {
		return errors.Wrapf(errVerify, "sector 0x%x not erased", addr)
	}
	return nil
}
