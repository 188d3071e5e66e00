package log

import (
	"context"
	"log/slog"
)

// ExpandingHandler applies the same error expansion as the zerolog
// converter to any other slog.Handler.
type ExpandingHandler struct {
	next  slog.Handler
	attrs []slog.Attr
}

var _ slog.Handler = (*ExpandingHandler)(nil)

// NewExpandingHandler wraps next.
func NewExpandingHandler(next slog.Handler) *ExpandingHandler {
	return &ExpandingHandler{next: next}
}

func (h *ExpandingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ExpandingHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, slog.Attr{Key: a.Key, Value: a.Value.Resolve()})
		return true
	})

	expanded := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	expanded.AddAttrs(expandErrors(attrs)...)
	return h.next.Handle(ctx, expanded)
}

// WithAttrs keeps attrs on h until a record is handled so that errors among
// them are expanded together with the record's own.
func (h *ExpandingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ExpandingHandler{
		next:  h.next,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

// WithGroup hands the held attrs to the wrapped handler first so they stay
// outside the group.
func (h *ExpandingHandler) WithGroup(name string) slog.Handler {
	next := h.next
	if len(h.attrs) > 0 {
		next = next.WithAttrs(expandErrors(h.attrs))
	}
	return &ExpandingHandler{next: next.WithGroup(name)}
}
