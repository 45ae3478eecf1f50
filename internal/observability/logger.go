package observability

import (
	"io"
	"log/slog"
)

// NewLogger builds the client logger. A nil writer discards output, which is
// the default for library callers that do not opt in to logging.
func NewLogger(writer io.Writer, level slog.Level, json bool) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With(slog.String("component", "quarry"))
}
