package ring

const (
	pageRecord = iota
	pageInactive
	pageUnreadable
)

// Batch is a run of unread records taken from the read cursor without
// consuming them. The records stay unread in flash until the batch is
// committed, so a batch that is never delivered is never lost.
type Batch[T any] struct {
	Records []T

	start uint64 // Pages consumed from the state when the batch was taken
	pages []byte // Outcome of each page spanned, from the read cursor on
}

// Pages returns the number of pages the batch spans, including inactive and
// unreadable ones.
func (b Batch[T]) Pages() int {
	return len(b.pages)
}

// Peek decodes up to limit records from the read cursor without moving it.
// Inactive and unreadable pages are passed over; they are counted when the
// batch is committed. An empty batch spanning no pages means nothing is
// unread.
func (r *Ring[T]) Peek(st *State, limit int) Batch[T] {
	st.mu.Lock()
	defer st.mu.Unlock()

	b := Batch[T]{start: st.consumed}
	buf := make([]byte, r.region.PageSize)
	for p := st.read; p != st.write && len(b.Records) < limit; p = r.index.Advance(p, 1) {
		if st.isBurnt(p) {
			b.pages = append(b.pages, pageInactive)
			continue
		}
		if err := r.readPage(r.index.ToAddress(p), buf); err != nil {
			r.logger.Warn("unreadable page passed over", "page", p, "error", err)
			b.pages = append(b.pages, pageUnreadable)
			continue
		}
		rec, active := r.codec.Decode(buf)
		if !active {
			b.pages = append(b.pages, pageInactive)
			continue
		}
		b.Records = append(b.Records, rec)
		b.pages = append(b.pages, pageRecord)
	}
	return b
}

// Commit consumes the pages of b and returns how many of its records were
// still unread. Pages the producer dropped while b was in flight are already
// counted as dropped and are not consumed again.
func (r *Ring[T]) Commit(st *State, b Batch[T]) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	gone := st.consumed - b.start
	if gone >= uint64(len(b.pages)) {
		return 0
	}

	read, skipped := 0, 0
	for _, outcome := range b.pages[gone:] {
		switch outcome {
		case pageRecord:
			read++
		case pageInactive:
			skipped++
		case pageUnreadable:
			st.counters.ReadFailures++
			r.metrics.RecordReadFailure(r.region.Name)
		}
	}
	n := len(b.pages) - int(gone)
	st.read = r.index.Advance(st.read, n)
	st.consumed += uint64(n)
	st.counters.Read += uint64(read)
	for i := 0; i < read; i++ {
		r.metrics.RecordRead(r.region.Name)
	}
	r.noteConsumed(st, skipped)
	return read
}
