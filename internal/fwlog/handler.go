package fwlog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
)

// RingHandler is a slog.Handler that serializes each accepted record
// into a trace Ring, generalizing the teacher's SlogHandler (which
// fanned logs out to both a UART text handler and an OpenTelemetry
// queue) to this firmware's single append-only ring.
type RingHandler struct {
	ring  *Ring
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewRingHandler returns a handler that appends accepted records to ring.
func NewRingHandler(ring *Ring, level slog.Leveler) *RingHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{ring: ring, level: level}
}

func (h *RingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *RingHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	if h.group != "" {
		buf.WriteString(h.group)
		buf.WriteByte(':')
	}
	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteByte(' ')
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(a.Value.String())
		return true
	})
	h.ring.Append(buf.Bytes())
	return nil
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

// TeeHandler fans a record out to a console/UART text handler and to
// a RingHandler, matching the teacher's "write to both console and
// telemetry" shape in SlogHandler.Handle.
type TeeHandler struct {
	console slog.Handler
	ring    *RingHandler
}

// NewTeeHandler writes human-readable text to w (a UART stand-in) and
// additionally appends every record to ring.
func NewTeeHandler(w io.Writer, ring *Ring, opts *slog.HandlerOptions) *TeeHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &TeeHandler{
		console: slog.NewTextHandler(w, opts),
		ring:    NewRingHandler(ring, level),
	}
}

func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level)
}

func (h *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.console.Handle(ctx, r)
	if r.Level >= h.ring.level.Level() {
		_ = h.ring.Handle(ctx, r)
	}
	return err
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TeeHandler{
		console: h.console.WithAttrs(attrs),
		ring:    h.ring.WithAttrs(attrs).(*RingHandler),
	}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	return &TeeHandler{
		console: h.console.WithGroup(name),
		ring:    h.ring.WithGroup(name).(*RingHandler),
	}
}
