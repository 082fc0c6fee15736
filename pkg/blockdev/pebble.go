package blockdev

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/segmentio/ksuid"
)

var (
	metaIDKey       = []byte("meta/id")
	metaGeometryKey = []byte("meta/geometry")
	pagePrefix      = []byte("page/")
)

// PebbleConfig configures a pebble-backed device image.
type PebbleConfig struct {
	Path     string   // Directory holding the image
	Geometry Geometry // Layout of the emulated part
	Sync     bool     // Fsync every program and erase
	FS       vfs.FS   // Optional filesystem, nil for the OS filesystem
}

// PebbleDevice persists an emulated flash part in a pebble database. Every
// programmed page is one key, an erased page has no key, so a fresh image is
// fully erased. The image carries a ksuid assigned on first open.
type PebbleDevice struct {
	db       *pebble.DB
	geometry Geometry
	id       ksuid.KSUID
	opts     *pebble.WriteOptions
}

// OpenPebble opens or creates a device image. Reopening an image with a
// different geometry fails.
func OpenPebble(config PebbleConfig) (*PebbleDevice, error) {
	if err := config.Geometry.Validate(); err != nil {
		return nil, err
	}

	db, err := pebble.Open(config.Path, &pebble.Options{FS: config.FS})
	if err != nil {
		return nil, errors.Wrapf(err, "open device image %s", config.Path)
	}

	d := &PebbleDevice{db: db, geometry: config.Geometry, opts: pebble.NoSync}
	if config.Sync {
		d.opts = pebble.Sync
	}
	if err := d.loadMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *PebbleDevice) loadMeta() error {
	stored, closer, err := d.db.Get(metaGeometryKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		d.id = ksuid.New()
		batch := d.db.NewBatch()
		defer batch.Close()
		if err := batch.Set(metaIDKey, d.id.Bytes(), nil); err != nil {
			return err
		}
		if err := batch.Set(metaGeometryKey, encodeGeometry(d.geometry), nil); err != nil {
			return err
		}
		return batch.Commit(pebble.Sync)
	case err != nil:
		return errors.Wrap(err, "read device geometry")
	}
	existing := decodeGeometry(stored)
	closer.Close()
	if existing != d.geometry {
		return errors.Newf("device image geometry %+v does not match requested %+v", existing, d.geometry)
	}

	raw, closer, err := d.db.Get(metaIDKey)
	if err != nil {
		return errors.Wrap(err, "read device id")
	}
	defer closer.Close()
	id, err := ksuid.FromBytes(raw)
	if err != nil {
		return errors.Wrap(err, "decode device id")
	}
	d.id = id
	return nil
}

// ID returns the identity assigned to the image when it was created.
func (d *PebbleDevice) ID() ksuid.KSUID {
	return d.id
}

// Geometry returns the emulated layout.
func (d *PebbleDevice) Geometry() Geometry {
	return d.geometry
}

// ReadPage reads from the stored page, or 0xFF when the page is erased.
func (d *PebbleDevice) ReadPage(addr uint32, buf []byte) error {
	if err := checkPageAccess(d.geometry, addr, len(buf)); err != nil {
		return err
	}
	page, err := d.loadPage(d.pageKey(addr))
	if err != nil {
		return err
	}
	offset := int(addr) % d.geometry.PageSize
	copy(buf, page[offset:])
	return nil
}

// WritePage programs data into the stored page with NOR semantics.
func (d *PebbleDevice) WritePage(addr uint32, data []byte) error {
	if err := checkPageAccess(d.geometry, addr, len(data)); err != nil {
		return err
	}
	key := d.pageKey(addr)
	page, err := d.loadPage(key)
	if err != nil {
		return err
	}
	offset := int(addr) % d.geometry.PageSize
	for i, b := range data {
		page[offset+i] &= b
	}
	return errors.Wrapf(d.db.Set(key, page, d.opts), "program page 0x%x", addr)
}

// EraseSector drops every stored page of the sector.
func (d *PebbleDevice) EraseSector(addr uint32) error {
	if err := checkSectorAccess(d.geometry, addr); err != nil {
		return err
	}
	start := d.pageKey(addr)
	end := d.pageKey(addr + uint32(d.geometry.SectorSize))
	return errors.Wrapf(d.db.DeleteRange(start, end, d.opts), "erase sector 0x%x", addr)
}

// Close flushes and closes the image.
func (d *PebbleDevice) Close() error {
	return d.db.Close()
}

func (d *PebbleDevice) loadPage(key []byte) ([]byte, error) {
	page := make([]byte, d.geometry.PageSize)
	stored, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		for i := range page {
			page[i] = ErasedByte
		}
		return page, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load page")
	}
	defer closer.Close()
	copy(page, stored)
	return page, nil
}

func (d *PebbleDevice) pageKey(addr uint32) []byte {
	key := make([]byte, len(pagePrefix)+4)
	copy(key, pagePrefix)
	binary.BigEndian.PutUint32(key[len(pagePrefix):], addr/uint32(d.geometry.PageSize))
	return key
}

func encodeGeometry(g Geometry) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], g.Size)
	binary.LittleEndian.PutUint32(buf[4:], uint32(g.PageSize))
	binary.LittleEndian.PutUint32(buf[8:], uint32(g.SectorSize))
	return buf
}

func decodeGeometry(buf []byte) Geometry {
	if len(buf) < 12 {
		return Geometry{}
	}
	return Geometry{
		Size:       binary.LittleEndian.Uint32(buf[0:]),
		PageSize:   int(binary.LittleEndian.Uint32(buf[4:])),
		SectorSize: int(binary.LittleEndian.Uint32(buf[8:])),
	}
}
