package netius

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Setenv(k, v))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	for _, k := range []string{"HOST", "PORT", "SSL", "KEY_FILE", "CER_FILE", "LEVEL", "POLL"} {
		old, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		if had {
			k, old := k, old
			t.Cleanup(func() { _ = os.Setenv(k, old) })
		}
	}

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.SSL)
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, "epoll", cfg.Poll)
	assert.Equal(t, "127.0.0.1:9090", cfg.Address())
}

func TestLoadServerConfig_EnvOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"HOST":     "0.0.0.0",
		"PORT":     "8443",
		"SSL":      "true",
		"KEY_FILE": "server.key",
		"CER_FILE": "server.crt",
		"LEVEL":    "debug",
		"POLL":     "kqueue",
	})

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8443, cfg.Port)
	assert.True(t, cfg.SSL)
	assert.Equal(t, "server.key", cfg.KeyFile)
	assert.Equal(t, "server.crt", cfg.CerFile)
	assert.Equal(t, LevelDebug, cfg.Level)
	assert.Equal(t, "kqueue", cfg.Poll)
	assert.Equal(t, "0.0.0.0:8443", cfg.Address())
}

func TestLoadServerConfig_InvalidPort(t *testing.T) {
	withEnv(t, map[string]string{"PORT": "not-a-number"})

	_, err := LoadServerConfig()
	assert.Error(t, err, "expected an error for invalid PORT")
}
