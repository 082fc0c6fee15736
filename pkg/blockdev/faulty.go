package blockdev

import (
	"math/rand"

	"github.com/cockroachdb/errors"
)

// Op identifies a device command.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Fault is the outcome an Injector picks for one command.
type Fault int

const (
	FaultNone Fault = iota
	// FaultTimeout rejects the command before it touches the cells.
	FaultTimeout
	// FaultIoError fails the command after it ran. Writes still program
	// their data, erases leave the sector untouched.
	FaultIoError
	// FaultWriteProtect rejects writes and erases.
	FaultWriteProtect
)

// Injector decides which fault, if any, hits a command.
type Injector func(op Op, addr uint32) Fault

// Faulty wraps a device and injects failures chosen by an Injector.
type Faulty struct {
	dev    BlockDevice
	inject Injector
	counts map[Fault]int
}

// NewFaulty wraps dev. A nil injector never injects.
func NewFaulty(dev BlockDevice, inject Injector) *Faulty {
	if inject == nil {
		inject = func(Op, uint32) Fault { return FaultNone }
	}
	return &Faulty{dev: dev, inject: inject, counts: make(map[Fault]int)}
}

// Geometry returns the wrapped device's layout.
func (f *Faulty) Geometry() Geometry {
	return f.dev.Geometry()
}

// ReadPage reads through the wrapped device unless a fault is injected.
func (f *Faulty) ReadPage(addr uint32, buf []byte) error {
	switch fault := f.pick(OpRead, addr); fault {
	case FaultTimeout:
		return errors.Wrapf(ErrIoTimeout, "read 0x%x", addr)
	case FaultIoError:
		return errors.Wrapf(ErrIoError, "read 0x%x", addr)
	}
	return f.dev.ReadPage(addr, buf)
}

// WritePage programs through the wrapped device unless a fault is injected.
func (f *Faulty) WritePage(addr uint32, data []byte) error {
	switch fault := f.pick(OpWrite, addr); fault {
	case FaultTimeout:
		return errors.Wrapf(ErrIoTimeout, "write 0x%x", addr)
	case FaultWriteProtect:
		return errors.Wrapf(ErrWriteProtected, "write 0x%x", addr)
	case FaultIoError:
		if err := f.dev.WritePage(addr, data); err != nil {
			return err
		}
		return errors.Wrapf(ErrIoError, "write 0x%x", addr)
	}
	return f.dev.WritePage(addr, data)
}

// EraseSector erases through the wrapped device unless a fault is injected.
func (f *Faulty) EraseSector(addr uint32) error {
	switch fault := f.pick(OpErase, addr); fault {
	case FaultTimeout:
		return errors.Wrapf(ErrIoTimeout, "erase 0x%x", addr)
	case FaultWriteProtect:
		return errors.Wrapf(ErrWriteProtected, "erase 0x%x", addr)
	case FaultIoError:
		return errors.Wrapf(ErrIoError, "erase 0x%x", addr)
	}
	return f.dev.EraseSector(addr)
}

// Injected returns how many times each fault was injected.
func (f *Faulty) Injected(fault Fault) int {
	return f.counts[fault]
}

func (f *Faulty) pick(op Op, addr uint32) Fault {
	fault := f.inject(op, addr)
	if op == OpRead && fault == FaultWriteProtect {
		fault = FaultNone
	}
	if fault != FaultNone {
		f.counts[fault]++
	}
	return fault
}

// RandomInjector injects a fault into roughly rate of all commands, choosing
// uniformly between timeout, i/o error and write protection.
func RandomInjector(rng *rand.Rand, rate float64) Injector {
	return func(op Op, addr uint32) Fault {
		if rng.Float64() >= rate {
			return FaultNone
		}
		return Fault(1 + rng.Intn(3))
	}
}

// FailNext injects fault into the next n commands of kind op.
func FailNext(op Op, fault Fault, n int) Injector {
	return func(got Op, addr uint32) Fault {
		if got != op || n <= 0 {
			return FaultNone
		}
		n--
		return fault
	}
}
