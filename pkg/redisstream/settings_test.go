package redisstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsNormalizedFillsDefaults(t *testing.T) {
	s := Settings{Enabled: true}.normalized()
	require.True(t, s.Enabled)
	require.Equal(t, "localhost:6379", s.Addr)
	require.Equal(t, "agent-relay", s.Group)

	s = Settings{Addr: "redis:6380", Group: "g"}.normalized()
	require.Equal(t, "redis:6380", s.Addr)
	require.Equal(t, "g", s.Group)
}
