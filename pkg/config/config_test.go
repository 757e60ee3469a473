package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	AddLoggingFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func noEnvFile(t *testing.T) string {
	return "--env-file=" + filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, warnings, err := Load(viper.New(), newFlags(t, noEnvFile(t)))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "not found")

	require.Equal(t, ":8000", cfg.Addr)
	require.Equal(t, ResponderEcho, cfg.Responder)
	require.Equal(t, 10*time.Second, cfg.WriteTimeout)
	require.Zero(t, cfg.MaxSessions)
	require.Zero(t, cfg.EvictIdle)
	require.False(t, cfg.Redis.Enabled)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("AGENT_RELAY_ADDR", ":9000")
	t.Setenv("AGENT_RELAY_MAX_SESSIONS", "7")
	t.Setenv("AGENT_RELAY_EVICT_IDLE", "5m")
	cfg, _, err := Load(viper.New(), newFlags(t, noEnvFile(t), "--max-sessions=3", "--redis-enabled"))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, 3, cfg.MaxSessions)
	require.Equal(t, 5*time.Minute, cfg.EvictIdle)
	require.True(t, cfg.Redis.Enabled)
}

func TestLoadOpenAIWithoutKeyFallsBack(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, warnings, err := Load(viper.New(), newFlags(t, noEnvFile(t), "--responder=openai"))
	require.NoError(t, err)
	require.Equal(t, ResponderEcho, cfg.Responder)
	require.Len(t, warnings, 2)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OPENAI_API_KEY=sk-test\nAGENT_RELAY_INBOUND_RATE=2.5\n"), 0o600))
	// t.Setenv restores the previous state when the test ends
	t.Setenv("OPENAI_API_KEY", "")
	require.NoError(t, os.Unsetenv("OPENAI_API_KEY"))
	t.Setenv("AGENT_RELAY_INBOUND_RATE", "")
	require.NoError(t, os.Unsetenv("AGENT_RELAY_INBOUND_RATE"))

	cfg, warnings, err := Load(viper.New(), newFlags(t, "--env-file="+path, "--responder=openai"))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, ResponderOpenAI, cfg.Responder)
	require.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	require.Equal(t, 2.5, cfg.InboundRate)
	require.Equal(t, 1, cfg.InboundBurst)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, _, err := Load(viper.New(), newFlags(t, noEnvFile(t), "--responder=psychic"))
	require.Error(t, err)
	_, _, err = Load(viper.New(), newFlags(t, noEnvFile(t), "--max-sessions=-1"))
	require.Error(t, err)
	_, _, err = Load(viper.New(), newFlags(t, noEnvFile(t), "--evict-idle=1m", "--evict-interval=0s"))
	require.Error(t, err)
}
