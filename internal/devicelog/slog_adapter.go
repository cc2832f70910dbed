package devicelog

import (
	"context"
	"log/slog"
)

// SlogAdapter writes session events to an slog.Logger. Useful during
// development to see session lifecycle on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes event to the slog logger at Debug level, except error
// events which log at Error level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("category", event.Category.String()),
	}

	level := slog.LevelDebug

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
	case event.Error != nil:
		level = slog.LevelError
		attrs = append(attrs,
			slog.String("op", event.Error.Op),
			slog.String("error", event.Error.Message),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("direction", event.Message.Direction.String()),
			slog.String("kind", event.Message.Kind),
		)
		if event.Message.Size > 0 {
			attrs = append(attrs, slog.Int("size", event.Message.Size))
		}
	case event.Credential != nil:
		attrs = append(attrs, slog.Bool("reconnected", event.Credential.Reconnected))
	}

	a.logger.LogAttrs(context.Background(), level, "session", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
