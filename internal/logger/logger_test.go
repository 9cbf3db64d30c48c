package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("debug")
	require.Equal(t, slog.LevelDebug, levelVar.Level())
	SetLevel("WARN")
	require.Equal(t, slog.LevelWarn, levelVar.Level())
	SetLevel("error")
	require.Equal(t, slog.LevelError, levelVar.Level())
	SetLevel("bogus")
	require.Equal(t, slog.LevelInfo, levelVar.Level())
}

func TestFromContext(t *testing.T) {
	require.Same(t, L, FromContext(context.Background()))

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	require.NotSame(t, L, FromContext(ctx))
}
