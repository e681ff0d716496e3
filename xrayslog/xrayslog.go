// Package xrayslog provides utilities for interfacing with the slog package.
package xrayslog

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shogo82148/xray-dispatcher-go/xray"
	"github.com/shogo82148/xray-dispatcher-go/xray/xraylog"
)

var _ slog.Handler = (*handler)(nil)

type handler struct {
	parent     slog.Handler
	traceIDKey string

	// groups opened by WithGroup, with the attributes added inside each of them.
	groups []group
}

type group struct {
	name  string
	attrs []any
}

// Enabled implements slog.Handler interface.
func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.parent.Enabled(ctx, level)
}

// Handle implements slog.Handler interface.
func (h *handler) Handle(ctx context.Context, record slog.Record) error {
	traceID := xray.ContextTraceID(ctx)
	if traceID == "" && len(h.groups) == 0 {
		return h.parent.Handle(ctx, record)
	}

	// the groups are opened here instead of in the parent,
	// so that the trace id stays at the top level.
	newRecord := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	attrs := make([]any, 0, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	for i := len(h.groups) - 1; i >= 0; i-- {
		g := h.groups[i]
		args := make([]any, 0, len(g.attrs)+len(attrs))
		args = append(args, g.attrs...)
		args = append(args, attrs...)
		attrs = []any{slog.Group(g.name, args...)}
	}
	for _, attr := range attrs {
		newRecord.AddAttrs(attr.(slog.Attr))
	}
	if traceID != "" {
		newRecord.AddAttrs(slog.String(h.traceIDKey, traceID))
	}
	return h.parent.Handle(ctx, newRecord)
}

// WithAttrs implements slog.Handler interface.
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(h.groups) == 0 {
		return &handler{
			parent:     h.parent.WithAttrs(attrs),
			traceIDKey: h.traceIDKey,
		}
	}
	groups := make([]group, len(h.groups))
	copy(groups, h.groups)
	last := &groups[len(groups)-1]
	merged := make([]any, 0, len(last.attrs)+len(attrs))
	merged = append(merged, last.attrs...)
	for _, a := range attrs {
		merged = append(merged, a)
	}
	last.attrs = merged
	return &handler{
		parent:     h.parent,
		traceIDKey: h.traceIDKey,
		groups:     groups,
	}
}

// WithGroup implements slog.Handler interface.
func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]group, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, group{name: name})
	return &handler{
		parent:     h.parent,
		traceIDKey: h.traceIDKey,
		groups:     groups,
	}
}

// NewHandler returns a [slog.Handler] that adds the trace ID of the current segment to the log record.
func NewHandler(parent slog.Handler, traceIDKey string) slog.Handler {
	return &handler{
		parent:     parent,
		traceIDKey: traceIDKey,
	}
}

type xrayLogger struct {
	h        slog.Handler
	minLevel xraylog.LogLevel
}

// NewXRayLogger returns a new [xraylog.Logger] that dispatches the messages to h.
func NewXRayLogger(h slog.Handler, minLevel xraylog.LogLevel) xraylog.Logger {
	return &xrayLogger{h: h, minLevel: minLevel}
}

func (l *xrayLogger) Log(level xraylog.LogLevel, msg string) {
	if level < l.minLevel || l.minLevel == xraylog.LogLevelSilent {
		return
	}

	ctx := context.Background()
	lv := xraylogLevelToSlog(level)
	if !l.h.Enabled(ctx, lv) {
		return
	}

	// skip [runtime.Callers, l.Log, xraylog.Info]
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	record := slog.NewRecord(time.Now(), lv, msg, pcs[0])
	l.h.Handle(ctx, record)
}

func xraylogLevelToSlog(l xraylog.LogLevel) slog.Level {
	switch l {
	case xraylog.LogLevelDebug:
		return slog.LevelDebug
	case xraylog.LogLevelWarn:
		return slog.LevelWarn
	case xraylog.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
