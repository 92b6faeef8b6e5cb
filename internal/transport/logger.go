package transport

import (
	"context"
	"encoding/hex"
	"log/slog"
)

const maxPreviewBytes = 32

func transportLogger(name string, attrs ...any) *slog.Logger {
	logger := slog.With("component", "transport", "transport", name)
	if len(attrs) == 0 {
		return logger
	}

	return logger.With(attrs...)
}

// hexPreview renders at most maxPreviewBytes of b for debug logs.
func hexPreview(b []byte) string {
	if len(b) > maxPreviewBytes {
		return hex.EncodeToString(b[:maxPreviewBytes]) + "..."
	}

	return hex.EncodeToString(b)
}

func logFrame(logger *slog.Logger, msg string, b []byte) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger.Debug(msg, "len", len(b), "preview", hexPreview(b))
}
