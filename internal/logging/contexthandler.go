package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns the session attributes to stamp on each record,
// such as the room and the current run.
type ContextProvider func() []slog.Attr

// ContextHandler stamps session attributes on every record. An attribute is
// skipped when the record already carries its key or when its value is the
// zero value, so runId stays off lines logged before a run starts.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler wraps inner with the attributes returned by provider.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider == nil {
		return h.inner.Handle(ctx, r)
	}

	var present map[string]bool
	r.Attrs(func(a slog.Attr) bool {
		if present == nil {
			present = make(map[string]bool, r.NumAttrs())
		}
		present[a.Key] = true
		return true
	})

	for _, a := range h.provider() {
		if present[a.Key] || isZero(a.Value) {
			continue
		}
		r.AddAttrs(a)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}

func isZero(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		return v.String() == ""
	case slog.KindInt64:
		return v.Int64() == 0
	case slog.KindUint64:
		return v.Uint64() == 0
	case slog.KindAny:
		return v.Any() == nil
	}
	return false
}
