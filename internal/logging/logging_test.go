package logging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextID(t *testing.T) {
	t.Parallel()

	_, ok := IDFromContext(context.Background())
	require.False(t, ok)

	ctx := NewContextWithID(context.Background(), "abc")
	id, ok := IDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "abc", id)
}

func TestWithContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core).Sugar()

	WithContext(logger, NewContextWithID(context.Background(), "req-1")).Info("hello")
	WithContext(logger, context.Background()).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	require.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := New(EnvConfig{Level: "debug", File: filepath.Join(t.TempDir(), "client.log")})
	require.NoError(t, err)
	logger.Info("written")
	_ = logger.Sync()
}

func TestNewBadLevel(t *testing.T) {
	t.Parallel()

	_, err := New(EnvConfig{Level: "loud"})
	require.Error(t, err)
}
