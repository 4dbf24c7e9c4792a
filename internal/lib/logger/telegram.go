package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Messenger interface {
	SendMessageWithLevel(msg string, level slog.Level)
}

// TelegramHandler wraps another handler and mirrors records to a messenger.
type TelegramHandler struct {
	next      slog.Handler
	messenger Messenger
	minLevel  slog.Level
	attrs     []slog.Attr
	group     string
}

func NewTelegramHandler(next slog.Handler, messenger Messenger, minLevel slog.Level) *TelegramHandler {
	return &TelegramHandler{
		next:      next,
		messenger: messenger,
		minLevel:  minLevel,
	}
}

func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level) || level >= h.minLevel
}

func (h *TelegramHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.minLevel {
		h.messenger.SendMessageWithLevel(h.format(r), r.Level)
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TelegramHandler{
		next:      h.next.WithAttrs(attrs),
		messenger: h.messenger,
		minLevel:  h.minLevel,
		attrs:     merged,
		group:     h.group,
	}
}

func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &TelegramHandler{
		next:      h.next.WithGroup(name),
		messenger: h.messenger,
		minLevel:  h.minLevel,
		attrs:     h.attrs,
		group:     group,
	}
}

func (h *TelegramHandler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s: %s", r.Level.String(), r.Message))
	write := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		b.WriteString(fmt.Sprintf("\n%s: %s", key, a.Value.String()))
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	return b.String()
}
