package codec

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// SampleSignature marks a page as an active sample batch.
const SampleSignature uint32 = 0x5A3B1E55

// MaxSamples is the number of samples per axis a page holds.
const MaxSamples = 32

const (
	sampleSignatureOffset = 0
	sampleSequenceOffset  = 4
	sampleCaptureOffset   = 8
	samplePreviousOffset  = 16
	sampleCountOffset     = 24
	sampleXOffset         = 25
	sampleYOffset         = sampleXOffset + MaxSamples
	sampleZOffset         = sampleYOffset + MaxSamples
)

// SampleBatch is one FIFO drain of the accelerometer.
type SampleBatch struct {
	Sequence                 uint32 `json:"sequence"`
	CaptureTimestamp         int64  `json:"capture_timestamp"` // Milliseconds
	PreviousCaptureTimestamp int64  `json:"previous_capture_timestamp"`
	X                        []int8 `json:"x"`
	Y                        []int8 `json:"y"`
	Z                        []int8 `json:"z"`
}

// Stamp implements Record.
func (b SampleBatch) Stamp() int64 {
	return b.CaptureTimestamp
}

// Count returns the number of samples per axis.
func (b SampleBatch) Count() int {
	return len(b.X)
}

// Validate checks that the batch fits in a page.
func (b SampleBatch) Validate() error {
	if len(b.X) > MaxSamples {
		return errors.Wrapf(ErrInvalidRecord, "%d samples exceeds %d", len(b.X), MaxSamples)
	}
	if len(b.Y) != len(b.X) || len(b.Z) != len(b.X) {
		return errors.Wrapf(ErrInvalidRecord, "axis lengths differ: x=%d y=%d z=%d", len(b.X), len(b.Y), len(b.Z))
	}
	return nil
}

// SampleBatchCodec encodes sample batches.
type SampleBatchCodec struct{}

// NewSampleBatchCodec creates a sample batch codec.
func NewSampleBatchCodec() *SampleBatchCodec {
	return &SampleBatchCodec{}
}

// Encode lays the batch out in a page. Unused sample slots are zero.
func (c *SampleBatchCodec) Encode(b SampleBatch) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	page := newPage()
	binary.LittleEndian.PutUint32(page[sampleSignatureOffset:], SampleSignature)
	binary.LittleEndian.PutUint32(page[sampleSequenceOffset:], b.Sequence)
	binary.LittleEndian.PutUint64(page[sampleCaptureOffset:], uint64(b.CaptureTimestamp))
	binary.LittleEndian.PutUint64(page[samplePreviousOffset:], uint64(b.PreviousCaptureTimestamp))
	page[sampleCountOffset] = byte(int8(len(b.X)))

	putAxis(page[sampleXOffset:sampleXOffset+MaxSamples], b.X)
	putAxis(page[sampleYOffset:sampleYOffset+MaxSamples], b.Y)
	putAxis(page[sampleZOffset:sampleZOffset+MaxSamples], b.Z)

	return page, nil
}

// Decode returns the batch held in page. ok is false when the signature does
// not match or the sample count is out of range.
func (c *SampleBatchCodec) Decode(page []byte) (SampleBatch, bool) {
	if len(page) < sampleZOffset+MaxSamples {
		return SampleBatch{}, false
	}
	if binary.LittleEndian.Uint32(page[sampleSignatureOffset:]) != SampleSignature {
		return SampleBatch{}, false
	}
	count := int(int8(page[sampleCountOffset]))
	if count < 0 || count > MaxSamples {
		return SampleBatch{}, false
	}

	return SampleBatch{
		Sequence:                 binary.LittleEndian.Uint32(page[sampleSequenceOffset:]),
		CaptureTimestamp:         int64(binary.LittleEndian.Uint64(page[sampleCaptureOffset:])),
		PreviousCaptureTimestamp: int64(binary.LittleEndian.Uint64(page[samplePreviousOffset:])),
		X:                        getAxis(page[sampleXOffset:], count),
		Y:                        getAxis(page[sampleYOffset:], count),
		Z:                        getAxis(page[sampleZOffset:], count),
	}, true
}

func putAxis(dst []byte, values []int8) {
	for i := range dst {
		dst[i] = 0
	}
	for i, v := range values {
		dst[i] = byte(v)
	}
}

func getAxis(src []byte, count int) []int8 {
	values := make([]int8, count)
	for i := range values {
		values[i] = int8(src[i])
	}
	return values
}
