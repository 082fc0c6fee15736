package codec

import (
	"github.com/cockroachdb/errors"
)

// PageSize is the size of every encoded record.
const PageSize = 256

// erasedByte fills the unused tail of a page, matching erased flash.
const erasedByte = 0xFF

// ErrInvalidRecord is returned when a record cannot be represented in a page.
var ErrInvalidRecord = errors.New("invalid record")

// Record is anything stored one per page in a ring.
type Record interface {
	// Stamp returns the timestamp used to order records found by a scan.
	Stamp() int64
}

// Codec maps records of type T to and from pages.
type Codec[T Record] interface {
	// Encode returns a PageSize buffer padded with 0xFF.
	Encode(rec T) ([]byte, error)
	// Decode returns the record held in page, or ok=false when the page is
	// not an active record of this type.
	Decode(page []byte) (rec T, ok bool)
}

func newPage() []byte {
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = erasedByte
	}
	return page
}
