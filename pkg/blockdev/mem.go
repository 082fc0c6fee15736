package blockdev

import (
	"github.com/cockroachdb/errors"
)

// MemDevice is an in-memory NOR flash. Programming ANDs the new data into the
// existing bytes the way real cells behave, so writing a page twice without an
// erase corrupts it. It also counts programs per page since the last erase of
// its sector, which lets tests check the erase-before-write discipline.
type MemDevice struct {
	geometry Geometry
	data     []byte
	programs []int

	reads, writes, erases int
}

// NewMemDevice creates a fully erased device.
func NewMemDevice(g Geometry) (*MemDevice, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	d := &MemDevice{
		geometry: g,
		data:     make([]byte, g.Size),
		programs: make([]int, int(g.Size)/g.PageSize),
	}
	for i := range d.data {
		d.data[i] = ErasedByte
	}
	return d, nil
}

// Geometry returns the device layout.
func (d *MemDevice) Geometry() Geometry {
	return d.geometry
}

// ReadPage copies len(buf) bytes starting at addr into buf.
func (d *MemDevice) ReadPage(addr uint32, buf []byte) error {
	if err := checkPageAccess(d.geometry, addr, len(buf)); err != nil {
		return err
	}
	copy(buf, d.data[addr:int(addr)+len(buf)])
	d.reads++
	return nil
}

// WritePage programs data at addr.
func (d *MemDevice) WritePage(addr uint32, data []byte) error {
	if err := checkPageAccess(d.geometry, addr, len(data)); err != nil {
		return err
	}
	for i, b := range data {
		d.data[int(addr)+i] &= b
	}
	d.programs[int(addr)/d.geometry.PageSize]++
	d.writes++
	return nil
}

// EraseSector resets a sector to 0xFF.
func (d *MemDevice) EraseSector(addr uint32) error {
	if err := checkSectorAccess(d.geometry, addr); err != nil {
		return err
	}
	end := int(addr) + d.geometry.SectorSize
	for i := int(addr); i < end; i++ {
		d.data[i] = ErasedByte
	}
	first := int(addr) / d.geometry.PageSize
	for p := first; p < first+d.geometry.PagesPerSector(); p++ {
		d.programs[p] = 0
	}
	d.erases++
	return nil
}

// Programs returns how many times the page holding addr was programmed since
// its sector was last erased.
func (d *MemDevice) Programs(addr uint32) int {
	return d.programs[int(addr)/d.geometry.PageSize]
}

// MaxPrograms returns the highest per-page program count on the device.
func (d *MemDevice) MaxPrograms() int {
	highest := 0
	for _, n := range d.programs {
		if n > highest {
			highest = n
		}
	}
	return highest
}

// Stats returns the number of reads, writes and erases performed.
func (d *MemDevice) Stats() (reads, writes, erases int) {
	return d.reads, d.writes, d.erases
}

// Poke overwrites raw bytes without NOR semantics. Tests use it to lay down
// arbitrary images.
func (d *MemDevice) Poke(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(d.geometry.Size) {
		return errors.Wrapf(ErrOutOfRange, "poke 0x%x+%d", addr, len(data))
	}
	copy(d.data[addr:], data)
	return nil
}
