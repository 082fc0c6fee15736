//go:build fuzz
// +build fuzz

package codec

import (
	"testing"
)

// FuzzLogEntryCodec_RoundTrip checks that any encodable entry survives a page.
func FuzzLogEntryCodec_RoundTrip(f *testing.F) {
	c := NewLogEntryCodec()

	f.Add(int64(0), uint8(1), "")
	f.Add(int64(100), uint8(2), "flash erase failed")
	f.Add(int64(-1), uint8(7), "with\x00nul")

	f.Fuzz(func(t *testing.T, ts int64, kind uint8, text string) {
		entry := LogEntry{Timestamp: ts, Kind: Kind(kind), Text: text}

		page, err := c.Encode(entry)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if len(page) != PageSize {
			t.Fatalf("page size %d", len(page))
		}

		decoded, ok := c.Decode(page)
		if !ok {
			t.Fatalf("encoded page decoded as inactive")
		}
		if decoded.Timestamp != ts {
			t.Errorf("Timestamp mismatch: got %d, want %d", decoded.Timestamp, ts)
		}
		if decoded.Text != TruncateText(text) {
			t.Errorf("Text mismatch: got %q, want %q", decoded.Text, TruncateText(text))
		}
	})
}

// FuzzDecode checks that arbitrary pages never panic either decoder.
func FuzzDecode(f *testing.F) {
	logs := NewLogEntryCodec()
	samples := NewSampleBatchCodec()

	f.Add(make([]byte, PageSize))
	f.Add([]byte{0xDE, 0xBC, 0x4A, 0xB0})

	f.Fuzz(func(t *testing.T, page []byte) {
		logs.Decode(page)
		if batch, ok := samples.Decode(page); ok {
			if err := batch.Validate(); err != nil {
				t.Fatalf("decoded batch is invalid: %v", err)
			}
		}
	})
}
