package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one buffered log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// RecentBuffer is a fixed-size ring of log entries.
type RecentBuffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	sink    func(Entry)
}

// NewRecentBuffer creates a ring holding capacity entries.
func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = RecentCapacity
	}
	return &RecentBuffer{entries: make([]Entry, capacity)}
}

// Add appends an entry, evicting the oldest when full.
func (b *RecentBuffer) Add(e Entry) {
	b.mu.Lock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink(e)
	}
}

// SetSink registers fn to receive every entry after it is buffered. The
// sink must not log through the same logger.
func (b *RecentBuffer) SetSink(fn func(Entry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = fn
}

// Last returns up to n entries, oldest first. n <= 0 returns everything.
func (b *RecentBuffer) Last(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []Entry
	if b.full {
		ordered = append(ordered, b.entries[b.next:]...)
	}
	ordered = append(ordered, b.entries[:b.next]...)

	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	out := make([]Entry, len(ordered))
	copy(out, ordered)
	return out
}

// RecentHandler copies every handled record into a RecentBuffer before
// delegating.
type RecentHandler struct {
	next   slog.Handler
	buffer *RecentBuffer
	attrs  []slog.Attr
	prefix string
}

// NewRecentHandler wraps next.
func NewRecentHandler(next slog.Handler, buffer *RecentBuffer) *RecentHandler {
	return &RecentHandler{next: next, buffer: buffer}
}

// Enabled reports whether the wrapped handler is enabled.
func (h *RecentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle buffers the record and passes it on.
func (h *RecentHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		flatten(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.buffer.Add(Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})
	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler carrying attrs.
func (h *RecentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	prefixed = append(prefixed, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		prefixed = append(prefixed, a)
	}
	return &RecentHandler{next: h.next.WithAttrs(attrs), buffer: h.buffer, attrs: prefixed, prefix: h.prefix}
}

// WithGroup returns a handler nesting keys under name.
func (h *RecentHandler) WithGroup(name string) slog.Handler {
	return &RecentHandler{next: h.next.WithGroup(name), buffer: h.buffer, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		for _, inner := range a.Value.Group() {
			flatten(dst, prefix+a.Key+".", inner)
		}
		return
	}
	dst[prefix+a.Key] = a.Value.Any()
}
