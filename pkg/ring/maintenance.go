package ring

import (
	"github.com/cockroachdb/errors"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/codec"
)

// Info describes a ring and the state driving it.
type Info struct {
	Region     Region   `json:"region"`
	Capacity   int      `json:"capacity"`
	SectorSize int      `json:"sector_size"`
	Sectors    int      `json:"sectors"`
	Unread     int      `json:"unread"`
	State      Snapshot `json:"state"`
}

// RawPage is the undecoded content of one page.
type RawPage struct {
	Index   int    `json:"index"`
	Address uint32 `json:"address"`
	Erased  bool   `json:"erased"`
	Data    []byte `json:"data,omitempty"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// PageView is the decoded content of one page.
type PageView struct {
	Index      int    `json:"index"`
	PageNumber int    `json:"page_number"`
	Active     bool   `json:"active"`
	Record     any    `json:"record,omitempty"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
}

// SectorResult is the outcome of erasing one sector.
type SectorResult struct {
	Address uint32 `json:"address"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// Diagnostics is the record type independent view of a ring used by the
// command line and HTTP front ends.
type Diagnostics interface {
	Name() string
	Describe() Info
	Summarize() Summary
	Dump(start, count int) ([]RawPage, error)
	Pages(start, count int) ([]PageView, error)
	Erase(addr uint32, sectors int) ([]SectorResult, error)
}

// Describe reports the ring geometry together with st.
func (r *Ring[T]) Describe(st *State) Info {
	snap := st.Snapshot()
	return Info{
		Region:     r.region,
		Capacity:   r.region.Capacity(),
		SectorSize: r.region.SectorSize(),
		Sectors:    r.region.Sectors(),
		Unread:     r.index.Distance(snap.Read, snap.Write),
		State:      snap,
	}
}

// Dump reads count raw pages starting at logical page start, wrapping at the
// end of the region. A page that cannot be read carries its error and the dump
// continues.
func (r *Ring[T]) Dump(start, count int) ([]RawPage, error) {
	if err := r.checkRange(start, count); err != nil {
		return nil, err
	}
	if count > r.region.PageCount {
		count = r.region.PageCount
	}

	pages := make([]RawPage, 0, count)
	for n := 0; n < count; n++ {
		i := r.index.Advance(start, n)
		addr := r.index.ToAddress(i)
		buf := make([]byte, r.region.PageSize)
		page := RawPage{Index: i, Address: addr}
		if err := r.readPage(addr, buf); err != nil {
			page.Err = err
			page.Error = err.Error()
		} else {
			page.Erased = blockdev.IsErased(buf)
			page.Data = buf
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// Pages decodes count pages starting at logical page start, wrapping at the
// end of the region.
func (r *Ring[T]) Pages(start, count int) ([]PageView, error) {
	if err := r.checkRange(start, count); err != nil {
		return nil, err
	}
	if count > r.region.PageCount {
		count = r.region.PageCount
	}

	views := make([]PageView, 0, count)
	for n := 0; n < count; n++ {
		page := r.pageAt(r.index.Advance(start, n))
		view := PageView{Index: page.Index, PageNumber: page.Index + 1, Active: page.Active, Err: page.Err}
		if page.Active {
			view.Record = page.Record
		}
		if page.Err != nil {
			view.Error = page.Err.Error()
		}
		views = append(views, view)
	}
	return views, nil
}

// Erase erases sectors starting at the absolute address addr, outside the
// lazy one-sector-ahead pacing. Each sector is attempted regardless of
// failures on the others. Cursors are not touched: erased pages read as
// inactive and are skipped by the consumer.
func (r *Ring[T]) Erase(addr uint32, sectors int) ([]SectorResult, error) {
	first, ok := r.index.PageOf(addr)
	if !ok {
		return nil, errors.Wrapf(ErrOutOfRange, "%s: address 0x%x", r.region.Name, addr)
	}
	if first%r.region.PagesPerSector != 0 || int(addr-r.region.BaseAddress)%r.region.PageSize != 0 {
		return nil, errors.Wrapf(blockdev.ErrUnaligned, "%s: address 0x%x is not a sector start", r.region.Name, addr)
	}
	if sectors <= 0 || first/r.region.PagesPerSector+sectors > r.region.Sectors() {
		return nil, errors.Wrapf(ErrOutOfRange, "%s: %d sectors from 0x%x", r.region.Name, sectors, addr)
	}

	results := make([]SectorResult, 0, sectors)
	failed := 0
	for n := 0; n < sectors; n++ {
		sector := addr + uint32(n*r.region.SectorSize())
		result := SectorResult{Address: sector}
		if err := r.eraseSector(sector); err != nil {
			result.Err = err
			result.Error = err.Error()
			failed++
		}
		results = append(results, result)
	}

	r.logger.Info("manual erase", "address", addr, "sectors", sectors, "failed", failed)
	return results, nil
}

func (r *Ring[T]) checkRange(start, count int) error {
	if start < 0 || start >= r.region.PageCount {
		return errors.Wrapf(ErrOutOfRange, "%s: page %d of %d", r.region.Name, start, r.region.PageCount)
	}
	if count <= 0 {
		return errors.Wrapf(ErrOutOfRange, "%s: page count %d", r.region.Name, count)
	}
	return nil
}

// Diagnostics binds the ring to st for the front ends.
func (r *Ring[T]) Diagnostics(st *State) Diagnostics {
	return &bound[T]{ring: r, state: st}
}

type bound[T codec.Record] struct {
	ring  *Ring[T]
	state *State
}

func (b *bound[T]) Name() string { return b.ring.Region().Name }

func (b *bound[T]) Describe() Info { return b.ring.Describe(b.state) }

func (b *bound[T]) Summarize() Summary { return b.ring.Summarize() }

func (b *bound[T]) Dump(start, count int) ([]RawPage, error) { return b.ring.Dump(start, count) }

func (b *bound[T]) Pages(start, count int) ([]PageView, error) { return b.ring.Pages(start, count) }

func (b *bound[T]) Erase(addr uint32, sectors int) ([]SectorResult, error) {
	return b.ring.Erase(addr, sectors)
}
