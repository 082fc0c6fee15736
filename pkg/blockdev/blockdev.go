// Package blockdev defines the raw flash device contract used by the ring
// buffers and provides in-memory, pebble-backed, fault-injecting and locking
// implementations of it.
//
// A device is addressed in bytes. Writes are page granular and may not cross
// a page boundary, erases are sector granular and must be sector aligned.
// Programming a page can only clear bits, so a page must be erased (all 0xFF)
// before it is written again.
package blockdev

import (
	"github.com/cockroachdb/errors"
)

// Default geometry of the serial NOR flash part.
const (
	DefaultPageSize   = 256
	DefaultSectorSize = 4096
	DefaultSize       = 8 * 1024 * 1024

	// ErasedByte is the value every byte holds after a sector erase.
	ErasedByte = 0xFF
)

// Errors reported by devices.
var (
	// ErrIoTimeout means the device was busy and did not accept the command.
	// Nothing was programmed or erased, so the command may be retried.
	ErrIoTimeout = errors.New("flash device timeout")
	// ErrIoError means the command failed part way. The addressed page or
	// sector is in an unknown state.
	ErrIoError = errors.New("flash device i/o error")
	// ErrWriteProtected means the device refused to modify its contents.
	ErrWriteProtected = errors.New("flash device write protected")

	ErrOutOfRange = errors.New("address out of device range")
	ErrUnaligned  = errors.New("address not aligned")
)

// Geometry describes the fixed layout of a device.
type Geometry struct {
	Size       uint32 // Total size in bytes
	PageSize   int    // Write granularity
	SectorSize int    // Erase granularity
}

// DefaultGeometry returns the geometry of an 8 MiB part with 256 byte pages
// and 4 KiB sectors.
func DefaultGeometry() Geometry {
	return Geometry{
		Size:       DefaultSize,
		PageSize:   DefaultPageSize,
		SectorSize: DefaultSectorSize,
	}
}

// PagesPerSector returns how many pages one erase clears.
func (g Geometry) PagesPerSector() int {
	return g.SectorSize / g.PageSize
}

// Sectors returns the number of sectors on the device.
func (g Geometry) Sectors() int {
	return int(g.Size) / g.SectorSize
}

// Validate checks that the geometry is self consistent.
func (g Geometry) Validate() error {
	if g.PageSize <= 0 || g.SectorSize <= 0 || g.Size == 0 {
		return errors.Newf("invalid geometry: page=%d sector=%d size=%d", g.PageSize, g.SectorSize, g.Size)
	}
	if g.SectorSize%g.PageSize != 0 {
		return errors.Newf("sector size %d is not a multiple of page size %d", g.SectorSize, g.PageSize)
	}
	if int64(g.Size)%int64(g.SectorSize) != 0 {
		return errors.Newf("device size %d is not a multiple of sector size %d", g.Size, g.SectorSize)
	}
	return nil
}

// BlockDevice is a raw flash part. Implementations are not required to be
// safe for concurrent use; wrap them in Locked when several goroutines share
// the bus.
type BlockDevice interface {
	// ReadPage fills buf from addr. len(buf) must not exceed the page size.
	ReadPage(addr uint32, buf []byte) error
	// WritePage programs data at addr. The range must lie within one page.
	WritePage(addr uint32, data []byte) error
	// EraseSector sets every byte of the sector starting at addr to 0xFF.
	EraseSector(addr uint32) error
	// Geometry returns the device layout.
	Geometry() Geometry
}

// IsErased reports whether every byte of buf is 0xFF.
func IsErased(buf []byte) bool {
	for _, b := range buf {
		if b != ErasedByte {
			return false
		}
	}
	return true
}

// Retryable reports whether err means the command was not accepted and can
// safely be issued again.
func Retryable(err error) bool {
	return errors.Is(err, ErrIoTimeout)
}

func checkPageAccess(g Geometry, addr uint32, n int) error {
	if n > g.PageSize {
		return errors.Wrapf(ErrOutOfRange, "length %d exceeds page size %d", n, g.PageSize)
	}
	if uint64(addr)+uint64(n) > uint64(g.Size) {
		return errors.Wrapf(ErrOutOfRange, "address 0x%x+%d", addr, n)
	}
	offset := int(addr) % g.PageSize
	if offset+n > g.PageSize {
		return errors.Wrapf(ErrUnaligned, "access 0x%x+%d crosses a page boundary", addr, n)
	}
	return nil
}

func checkSectorAccess(g Geometry, addr uint32) error {
	if int(addr)%g.SectorSize != 0 {
		return errors.Wrapf(ErrUnaligned, "sector address 0x%x", addr)
	}
	if uint64(addr)+uint64(g.SectorSize) > uint64(g.Size) {
		return errors.Wrapf(ErrOutOfRange, "sector address 0x%x", addr)
	}
	return nil
}
