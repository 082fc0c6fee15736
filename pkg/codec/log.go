package codec

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf8"
)

// LogSignature marks a page as an active log entry.
const LogSignature uint32 = 0xB04ABCDE

const (
	// TextSize is the size of the text field including its terminator.
	TextSize = 128
	// MaxTextLen is the longest text stored; longer text is truncated.
	MaxTextLen = TextSize - 1

	logTimestampOffset = 0
	logSignatureOffset = 8
	logKindOffset      = 12
	logTextOffset      = 13
)

// Kind classifies a log entry.
type Kind uint8

const (
	KindUnknown Kind = 0
	KindInfo    Kind = 1
	KindError   Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "Info"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Short returns the three letter tag used in log listings.
func (k Kind) Short() string {
	switch k {
	case KindInfo:
		return "Inf"
	case KindError:
		return "Err"
	default:
		return "Unk"
	}
}

// LogEntry is one diagnostic event.
type LogEntry struct {
	Timestamp int64  `json:"timestamp"` // Milliseconds
	Kind      Kind   `json:"kind"`
	Text      string `json:"text"`
}

// Stamp implements Record.
func (e LogEntry) Stamp() int64 {
	return e.Timestamp
}

// LogEntryCodec encodes log entries.
type LogEntryCodec struct{}

// NewLogEntryCodec creates a log entry codec.
func NewLogEntryCodec() *LogEntryCodec {
	return &LogEntryCodec{}
}

// Encode lays the entry out in a page. Text beyond MaxTextLen bytes, or after
// an embedded NUL, is dropped. Kinds other than Info and Error are stored as
// Unknown.
func (c *LogEntryCodec) Encode(e LogEntry) ([]byte, error) {
	page := newPage()

	binary.LittleEndian.PutUint64(page[logTimestampOffset:], uint64(e.Timestamp))
	binary.LittleEndian.PutUint32(page[logSignatureOffset:], LogSignature)

	kind := e.Kind
	if kind != KindInfo && kind != KindError {
		kind = KindUnknown
	}
	page[logKindOffset] = byte(kind)

	text := page[logTextOffset : logTextOffset+TextSize]
	for i := range text {
		text[i] = 0
	}
	copy(text, TruncateText(e.Text))

	return page, nil
}

// Decode returns the entry held in page. ok is false when the signature does
// not match.
func (c *LogEntryCodec) Decode(page []byte) (LogEntry, bool) {
	if len(page) < logTextOffset+TextSize {
		return LogEntry{}, false
	}
	if binary.LittleEndian.Uint32(page[logSignatureOffset:]) != LogSignature {
		return LogEntry{}, false
	}

	kind := Kind(page[logKindOffset])
	if kind != KindInfo && kind != KindError {
		kind = KindUnknown
	}

	text := page[logTextOffset : logTextOffset+MaxTextLen]
	if n := bytes.IndexByte(text, 0); n >= 0 {
		text = text[:n]
	}

	return LogEntry{
		Timestamp: int64(binary.LittleEndian.Uint64(page[logTimestampOffset:])),
		Kind:      kind,
		Text:      string(text),
	}, true
}

// TruncateText returns the part of s that fits in a log entry. A cut never
// splits a UTF-8 sequence.
func TruncateText(s string) string {
	if n := strings.IndexByte(s, 0); n >= 0 {
		s = s[:n]
	}
	if len(s) <= MaxTextLen {
		return s
	}
	n := MaxTextLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
