package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

var levelVar = new(slog.LevelVar)

var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// FromContext returns L tagged with the request id chi stored in ctx, if any.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		return L.With("request_id", reqID)
	}
	return L
}
