package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// bridge lets packages that speak log/slog write through the shared
// zerolog logger, keeping one output format.
type bridge struct {
	zl    *zerolog.Logger
	attrs []slog.Attr
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&bridge{zl: zl})
}

func (b *bridge) Enabled(_ context.Context, l slog.Level) bool {
	switch zerolog.GlobalLevel() {
	case zerolog.WarnLevel:
		return l >= slog.LevelWarn
	case zerolog.ErrorLevel:
		return l >= slog.LevelError
	case zerolog.InfoLevel:
		return l >= slog.LevelInfo
	default:
		return true
	}
}

func (b *bridge) Handle(ctx context.Context, r slog.Record) error {
	base := FromContext(ctx, b.zl)

	var ev *zerolog.Event
	switch {
	case r.Level < slog.LevelInfo:
		ev = base.Debug()
	case r.Level < slog.LevelWarn:
		ev = base.Info()
	case r.Level < slog.LevelError:
		ev = base.Warn()
	default:
		ev = base.Error()
	}

	for _, a := range b.attrs {
		ev = appendAttr(ev, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, a)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *b
	cp.attrs = append(cp.attrs, attrs...)
	return &cp
}

func (b *bridge) WithGroup(_ string) slog.Handler { return b }

func appendAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(a.Key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(a.Key, a.Value.Int64())
	case slog.KindFloat64:
		return ev.Float64(a.Key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(a.Key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Str(a.Key, a.Value.Duration().String())
	default:
		return ev.Interface(a.Key, a.Value.Any())
	}
}
