package ring

import (
	"github.com/cockroachdb/errors"

	"github.com/ssargent/flashring/pkg/blockdev"
)

// Region is a contiguous, fixed geometry slice of flash holding one ring.
type Region struct {
	Name                  string `yaml:"name" json:"name"`
	BaseAddress           uint32 `yaml:"base_address" json:"base_address"`
	PageSize              int    `yaml:"page_size" json:"page_size"`
	PagesPerSector        int    `yaml:"pages_per_sector" json:"pages_per_sector"`
	PageCount             int    `yaml:"page_count" json:"page_count"`
	OverlapGuardPages     int    `yaml:"overlap_guard_pages" json:"overlap_guard_pages"`
	WarningThresholdPages int    `yaml:"warning_threshold_pages" json:"warning_threshold_pages"`
}

// SectorSize returns the erase granularity in bytes.
func (r Region) SectorSize() int {
	return r.PageSize * r.PagesPerSector
}

// Capacity returns the most unread pages the ring keeps.
func (r Region) Capacity() int {
	return r.PageCount - r.OverlapGuardPages
}

// EndAddress returns the first address past the region.
func (r Region) EndAddress() uint64 {
	return uint64(r.BaseAddress) + uint64(r.PageCount)*uint64(r.PageSize)
}

// Sectors returns the number of sectors in the region.
func (r Region) Sectors() int {
	return r.PageCount / r.PagesPerSector
}

// Validate checks the geometry on its own, without a device.
func (r Region) Validate() error {
	switch {
	case r.PageSize <= 0:
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: page size %d", r.Name, r.PageSize)
	case r.PagesPerSector <= 0:
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: pages per sector %d", r.Name, r.PagesPerSector)
	case r.PageCount <= 0:
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: page count %d", r.Name, r.PageCount)
	case r.PageCount%r.PagesPerSector != 0:
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: page count %d is not a multiple of %d pages per sector",
			r.Name, r.PageCount, r.PagesPerSector)
	case int64(r.BaseAddress)%int64(r.SectorSize()) != 0:
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: base address 0x%x is not sector aligned", r.Name, r.BaseAddress)
	case r.OverlapGuardPages < r.PagesPerSector:
		// Erasing ahead of the writer must never reach an unread page.
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: overlap guard %d pages is less than a sector of %d",
			r.Name, r.OverlapGuardPages, r.PagesPerSector)
	case r.OverlapGuardPages >= r.PageCount:
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: overlap guard %d pages", r.Name, r.OverlapGuardPages)
	case r.WarningThresholdPages < 0 || r.OverlapGuardPages+r.WarningThresholdPages > r.PageCount:
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: warning threshold %d pages", r.Name, r.WarningThresholdPages)
	}
	return nil
}

// Fits checks that the region lies inside a device with geometry g and uses
// its page and sector sizes.
func (r Region) Fits(g blockdev.Geometry) error {
	if r.PageSize != g.PageSize || r.SectorSize() != g.SectorSize {
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: page %d / sector %d does not match device page %d / sector %d",
			r.Name, r.PageSize, r.SectorSize(), g.PageSize, g.SectorSize)
	}
	if r.EndAddress() > uint64(g.Size) {
		return errors.Wrapf(ErrInvalidRegionConfig, "%s: ends at 0x%x past device size 0x%x", r.Name, r.EndAddress(), g.Size)
	}
	return nil
}

// Overlaps reports whether two regions share any address.
func (r Region) Overlaps(other Region) bool {
	return uint64(r.BaseAddress) < other.EndAddress() && uint64(other.BaseAddress) < r.EndAddress()
}

// Index maps logical page indices to physical addresses. Logical indices wrap
// modulo the page count.
type Index struct {
	base     uint32
	pageSize int
	count    int
}

// NewIndex validates r and returns its index.
func NewIndex(r Region) (Index, error) {
	if err := r.Validate(); err != nil {
		return Index{}, err
	}
	return Index{base: r.BaseAddress, pageSize: r.PageSize, count: r.PageCount}, nil
}

// Count returns the number of pages.
func (x Index) Count() int {
	return x.count
}

// ToAddress returns the physical address of logical page i.
func (x Index) ToAddress(i int) uint32 {
	return x.base + uint32(x.wrap(i)*x.pageSize)
}

// Advance returns i moved n pages forward. n may be negative.
func (x Index) Advance(i, n int) int {
	return x.wrap(i + n)
}

// Distance returns how many pages b lies ahead of a, in [0, count).
func (x Index) Distance(a, b int) int {
	return x.wrap(b - a)
}

// PageOf returns the logical page holding addr.
func (x Index) PageOf(addr uint32) (int, bool) {
	if addr < x.base {
		return 0, false
	}
	off := int(addr - x.base)
	if off >= x.count*x.pageSize {
		return 0, false
	}
	return off / x.pageSize, true
}

func (x Index) wrap(i int) int {
	i %= x.count
	if i < 0 {
		i += x.count
	}
	return i
}
