package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.Endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", event.Endpoint))
	}

	switch {
	case event.Message != nil:
		m := event.Message
		attrs = append(attrs, slog.String("op", m.Op.String()))
		if m.Subject != "" {
			attrs = append(attrs, slog.String("subject", m.Subject))
		}
		if m.Reply != "" {
			attrs = append(attrs, slog.String("reply", m.Reply))
		}
		if m.Sid != 0 {
			attrs = append(attrs, slog.Uint64("sid", m.Sid))
		}
		if m.Queue != "" {
			attrs = append(attrs, slog.String("queue", m.Queue))
		}
		if m.Max != 0 {
			attrs = append(attrs, slog.Int("max", m.Max))
		}
		if m.Op == MessageOpPub || m.Op == MessageOpMsg {
			attrs = append(attrs, slog.Int("size", m.Size))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.ControlMsg != nil:
		attrs = append(attrs, slog.String("ctrl_type", event.ControlMsg.Type.String()))
		if event.ControlMsg.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.ControlMsg.Detail))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
