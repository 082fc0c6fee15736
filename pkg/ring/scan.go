package ring

import (
	"github.com/ssargent/flashring/pkg/blockdev"
)

// Page is one step of a scan.
type Page[T any] struct {
	Index  int   // Logical page index
	Record T     // Decoded record, valid when Active
	Active bool  // Page holds a record of this ring's type
	Err    error // Read failure, Active is false
}

// PageIterator walks every page of a ring in physical order. It is finite,
// lazy and can be restarted with Reset. Read failures are reported on the
// page and do not stop the walk.
type PageIterator[T any] struct {
	read  func(i int) Page[T]
	count int
	next  int
	page  Page[T]
}

// Scan returns an iterator over all pages of the ring.
func (r *Ring[T]) Scan() *PageIterator[T] {
	return &PageIterator[T]{read: r.pageAt, count: r.region.PageCount}
}

// Next advances to the next page and reports whether there was one.
func (it *PageIterator[T]) Next() bool {
	if it.next >= it.count {
		return false
	}
	it.page = it.read(it.next)
	it.next++
	return true
}

// Page returns the current page.
func (it *PageIterator[T]) Page() Page[T] {
	return it.page
}

// Reset rewinds the iterator to page 0.
func (it *PageIterator[T]) Reset() {
	it.next = 0
	it.page = Page[T]{}
}

// Close releases the iterator.
func (it *PageIterator[T]) Close() error {
	it.next = it.count
	return nil
}

func (r *Ring[T]) pageAt(i int) Page[T] {
	rec, ok, err := r.ReadAt(i)
	return Page[T]{Index: i, Record: rec, Active: ok, Err: err}
}

// Match is one search hit.
type Match[T any] struct {
	PageNumber int `json:"page_number"` // 1-based page number, logical index + 1
	Record     T   `json:"record"`
}

// SearchStats counts what a search has looked at so far.
type SearchStats struct {
	Searched int `json:"searched"`
	Skipped  int `json:"skipped"`
	Found    int `json:"found"`
}

// SearchIterator yields the active records matching a predicate in physical
// order.
type SearchIterator[T any] struct {
	pages *PageIterator[T]
	pred  func(T) bool
	match Match[T]
	stats SearchStats
}

// Search returns an iterator over active records for which pred is true.
func (r *Ring[T]) Search(pred func(T) bool) *SearchIterator[T] {
	return &SearchIterator[T]{pages: r.Scan(), pred: pred}
}

// Next advances to the next match and reports whether there was one.
func (it *SearchIterator[T]) Next() bool {
	for it.pages.Next() {
		page := it.pages.Page()
		it.stats.Searched++
		if !page.Active {
			it.stats.Skipped++
			continue
		}
		if !it.pred(page.Record) {
			continue
		}
		it.stats.Found++
		it.match = Match[T]{PageNumber: page.Index + 1, Record: page.Record}
		return true
	}
	return false
}

// Match returns the current match.
func (it *SearchIterator[T]) Match() Match[T] {
	return it.match
}

// Stats returns the counts so far.
func (it *SearchIterator[T]) Stats() SearchStats {
	return it.stats
}

// Reset restarts the search from page 0.
func (it *SearchIterator[T]) Reset() {
	it.pages.Reset()
	it.match = Match[T]{}
	it.stats = SearchStats{}
}

// Close releases the iterator.
func (it *SearchIterator[T]) Close() error {
	return it.pages.Close()
}

// Summary aggregates a full scan of a ring.
type Summary struct {
	Pages         int   `json:"pages"`
	Active        int   `json:"active"`
	Inactive      int   `json:"inactive"`
	Unreadable    int   `json:"unreadable"`
	Oldest        int   `json:"oldest"` // Page of the earliest stamp, -1 when empty
	OldestStamp   int64 `json:"oldest_stamp"`
	Newest        int   `json:"newest"` // Page of the latest stamp, -1 when empty
	NewestStamp   int64 `json:"newest_stamp"`
	FirstInactive int   `json:"first_inactive"` // -1 when every page is active
	LastInactive  int   `json:"last_inactive"`
}

// Summarize scans every page. Oldest is the first page holding the earliest
// stamp; Newest is the last page holding the latest stamp. Unreadable pages are
// counted separately and are not inactive.
func (r *Ring[T]) Summarize() Summary {
	return r.SummarizeWith(nil)
}

// SummarizeWith is Summarize, also handing every page to visit so callers can
// aggregate their own counts in the same pass.
func (r *Ring[T]) SummarizeWith(visit func(Page[T])) Summary {
	s := Summary{Oldest: -1, Newest: -1, FirstInactive: -1, LastInactive: -1}

	it := r.Scan()
	defer it.Close()
	for it.Next() {
		page := it.Page()
		if visit != nil {
			visit(page)
		}
		s.Pages++
		switch {
		case page.Err != nil:
			s.Unreadable++
		case !page.Active:
			s.Inactive++
			if s.FirstInactive < 0 {
				s.FirstInactive = page.Index
			}
			s.LastInactive = page.Index
		default:
			s.Active++
			stamp := page.Record.Stamp()
			if s.Oldest < 0 || stamp < s.OldestStamp {
				s.Oldest, s.OldestStamp = page.Index, stamp
			}
			if s.Newest < 0 || stamp >= s.NewestStamp {
				s.Newest, s.NewestStamp = page.Index, stamp
			}
		}
	}
	return s
}

// Recover rebuilds st from the flash contents after a cold start and returns
// the scan it was built from.
//
// An empty ring recovers to 0/0. Otherwise the write cursor follows the newest
// record and the read cursor sits on the oldest, clamped to Capacity unread
// pages. When the write cursor lands inside a sector whose remaining pages are
// not all erased, it moves on to the next sector boundary so the next append
// erases before writing.
func (r *Ring[T]) Recover(st *State) Summary {
	summary := r.Summarize()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.counters = Counters{}
	st.burnt = nil
	if summary.Active == 0 {
		st.read, st.write = 0, 0
		r.setLevel(st, LevelNormal)
		r.logger.Info("recovered empty ring", "unreadable", summary.Unreadable)
		return summary
	}

	span := r.index.Distance(summary.Oldest, summary.Newest) + 1
	write := r.index.Advance(summary.Newest, 1)

	if offset := write % r.region.PagesPerSector; offset != 0 {
		if !r.restErased(write) {
			gap := r.region.PagesPerSector - offset
			write = r.index.Advance(write, gap)
			span += gap
		}
	}
	if span > r.region.Capacity() {
		span = r.region.Capacity()
	}

	st.write = write
	st.read = r.index.Advance(write, -span)
	r.setLevel(st, levelFor(r.region, span))
	r.metrics.SetUnread(r.region.Name, span)

	r.logger.Info("recovered ring", "read", st.read, "write", st.write, "unread", span,
		"active", summary.Active, "inactive", summary.Inactive, "unreadable", summary.Unreadable)
	return summary
}

// restErased reports whether pages from p to the end of its sector are all
// erased. An unreadable page counts as not erased.
func (r *Ring[T]) restErased(p int) bool {
	buf := make([]byte, r.region.PageSize)
	end := p - p%r.region.PagesPerSector + r.region.PagesPerSector
	for i := p; i < end; i++ {
		if err := r.readPage(r.index.ToAddress(i), buf); err != nil {
			r.logger.Warn("unreadable page during recovery", "page", i, "error", err)
			return false
		}
		if !blockdev.IsErased(buf) {
			return false
		}
	}
	return true
}
