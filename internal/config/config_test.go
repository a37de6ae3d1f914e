package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "defaultpassword", cfg.Secret)
	assert.Equal(t, 30*time.Second, cfg.HandshakeTimeout)
	assert.False(t, cfg.RequireApproval)
	assert.False(t, cfg.EnforceTalk)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	require.Len(t, cfg.Channels, 3)
	assert.Equal(t, domain.ChannelID("general"), cfg.Channels[0].ID)
	assert.Equal(t, "General Chat", cfg.Channels[0].Name)
}

func TestSessionKeyIsNotTheSecret(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	first, err := LoadFile(missing)
	require.NoError(t, err)
	second, err := LoadFile(missing)
	require.NoError(t, err)

	assert.Len(t, first.SessionKey, sessionKeyLen)
	assert.NotEqual(t, first.Secret, first.SessionKey)
	assert.NotEqual(t, first.SessionKey, second.SessionKey)

	t.Setenv("SOUNDMESH_SESSION_KEY", "configured-key")
	configured, err := LoadFile(missing)
	require.NoError(t, err)
	assert.Equal(t, "configured-key", configured.SessionKey)
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
ping_period: 5s
pong_wait: 15s
require_approval: true
udp_port_min: 40000
udp_port_max: 40100
channels:
  - id: ops
    name: Ops
`), 0o600))
	t.Setenv(PasswordEnv, "from-env")
	t.Setenv("SOUNDMESH_ENFORCE_TALK", "true")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.PingPeriod)
	assert.True(t, cfg.RequireApproval)
	assert.True(t, cfg.EnforceTalk)
	assert.Equal(t, "from-env", cfg.Secret)
	assert.Equal(t, uint16(40000), cfg.UDPPortMin)
	assert.Equal(t, []domain.Channel{{ID: "ops", Name: "Ops"}}, cfg.Channels)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:       8080,
			Secret:     "x",
			PingPeriod: time.Second,
			PongWait:   2 * time.Second,
			Channels:   []domain.Channel{{ID: "a", Name: "A"}},
		}
	}
	good := base()
	require.NoError(t, good.Validate())

	cases := map[string]func(*Config){
		"ping not shorter than pong": func(c *Config) { c.PongWait = c.PingPeriod },
		"empty secret":               func(c *Config) { c.Secret = "" },
		"half port range":            func(c *Config) { c.UDPPortMin = 5000 },
		"duplicate channel":          func(c *Config) { c.Channels = append(c.Channels, domain.Channel{ID: "a", Name: "B"}) },
		"nameless channel":           func(c *Config) { c.Channels[0].Name = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
