package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDedupPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]DedupPolicy{"": DedupNone, "none": DedupNone, "echo": DedupEcho} {
		got, err := ParseDedupPolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
		if in != "" {
			require.Equal(t, in, got.String())
		}
	}

	_, err := ParseDedupPolicy("ECHO")
	require.Error(t, err)
}

func TestWithEnvConfig(t *testing.T) {
	t.Parallel()

	c := defaultConfig()
	WithEnvConfig(EnvConfig{Dedup: "echo", DedupWindow: time.Minute}).apply(c)
	require.Equal(t, DedupEcho, c.dedup)
	require.Equal(t, time.Minute, c.dedupWindow)

	c = defaultConfig()
	WithEnvConfig(EnvConfig{Dedup: "bogus"}).apply(c)
	require.Equal(t, DedupNone, c.dedup)
	require.Equal(t, 30*time.Second, c.dedupWindow)
}

func TestDefaultIDGenerator(t *testing.T) {
	t.Parallel()

	id, err := defaultConfig().newID()
	require.NoError(t, err)
	require.Len(t, id, 21)
}
