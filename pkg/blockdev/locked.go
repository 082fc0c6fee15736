package blockdev

import "sync"

// Locked serialises every command on a device. The physical part sits on a
// single bus and an erase keeps the whole chip busy, so all users of one part
// must share one Locked.
type Locked struct {
	mu  sync.Mutex
	dev BlockDevice
}

// NewLocked wraps dev.
func NewLocked(dev BlockDevice) *Locked {
	return &Locked{dev: dev}
}

// Geometry returns the wrapped device's layout.
func (l *Locked) Geometry() Geometry {
	return l.dev.Geometry()
}

// ReadPage reads while holding the bus.
func (l *Locked) ReadPage(addr uint32, buf []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.ReadPage(addr, buf)
}

// WritePage programs while holding the bus.
func (l *Locked) WritePage(addr uint32, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.WritePage(addr, data)
}

// EraseSector erases while holding the bus.
func (l *Locked) EraseSector(addr uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.EraseSector(addr)
}
