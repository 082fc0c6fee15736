package ring

import (
	"github.com/cockroachdb/errors"
)

// Errors reported by rings. Device failures are wrapped and marked with
// ErrFlashIO or ErrEraseFailed, so the device error stays reachable through
// errors.Is as well.
var (
	// ErrInvalidRegionConfig means a region's geometry is inconsistent or does
	// not fit the device.
	ErrInvalidRegionConfig = errors.New("invalid region configuration")
	// ErrFlashIO means a page could not be written or read.
	ErrFlashIO = errors.New("flash i/o failure")
	// ErrEraseFailed means a sector could not be erased within the allowed
	// attempts. The page write that needed it was not issued.
	ErrEraseFailed = errors.New("sector erase failed")
	// ErrOutOfRange means a page index or address lies outside the region.
	ErrOutOfRange = errors.New("outside region")
)

// errVerify reports a readback that did not match what was written.
var errVerify = errors.New("readback mismatch")
