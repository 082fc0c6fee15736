package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ssargent/flashring/pkg/codec"
)

// Handler is an slog.Handler that holds records at or above its level as
// events, rendering attributes after the message as key=value pairs. Records
// at slog.LevelError and above become error events. Every record is also
// passed to next when one is set.
type Handler struct {
	log    *Log
	level  slog.Leveler
	next   slog.Handler
	prefix string // Rendered WithAttrs attributes
	group  string // Dotted WithGroup path
}

// NewHandler creates a handler feeding log. A nil level means slog.LevelInfo.
func NewHandler(log *Log, level slog.Leveler, next slog.Handler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{log: log, level: level, next: next}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		kind := codec.KindInfo
		if r.Level >= slog.LevelError {
			kind = codec.KindError
		}
		h.log.Record(kind, h.render(r))
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) render(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		// Stop once the event text is full.
		return b.Len() <= codec.MaxTextLen
	})
	return b.String()
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" && key != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		if key == "" {
			key = group
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	clone.prefix = b.String()
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group == "" {
		clone.group = name
	} else {
		clone.group = h.group + "." + name
	}
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}
