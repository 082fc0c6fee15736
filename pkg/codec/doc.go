// Package codec provides the fixed page layouts stored in the flash rings.
//
// Every record occupies exactly one 256 byte flash page. There is no header or
// footer beyond the record itself: a page is active when its signature field
// matches, and anything else (an erased page, a page torn by power loss, a page
// of another type) decodes as inactive. A torn write therefore costs at most
// the page being written and never misleads a scan of its neighbours.
//
// # Log entry layout
//
//	[Timestamp(8)][Signature(4)][Kind(1)][Text(128)][0xFF padding]
//
//   - Timestamp: milliseconds since boot, int64 little-endian
//   - Signature: 0xB04ABCDE, uint32 little-endian
//   - Kind: 1 for Info, 2 for Error
//   - Text: NUL terminated, at most 127 significant bytes
//
// # Sample batch layout
//
//	[Signature(4)][Sequence(4)][Capture(8)][PreviousCapture(8)][Count(1)][X(32)][Y(32)][Z(32)][0xFF padding]
//
// The signature 0x5A3B1E55 makes sample pages self validating, so the sample
// ring can be recovered by a cold scan the same way as the event log.
//
// # Usage
//
//	c := codec.NewLogEntryCodec()
//
//	page, err := c.Encode(codec.LogEntry{Timestamp: 1500, Kind: codec.KindInfo, Text: "boot"})
//	if err != nil {
//	    return err
//	}
//
//	entry, ok := c.Decode(page)
//	if !ok {
//	    // inactive page
//	}
//
// Codecs are stateless and safe for concurrent use.
package codec
