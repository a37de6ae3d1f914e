package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PasswordEnv overrides the shared connection secret.
const PasswordEnv = "SOUNDMESH_SERVER_PASSWORD"

const sessionKeyLen = 32

type Config struct {
	Mode       string `mapstructure:"mode"`
	LogLevel   string `mapstructure:"log_level"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`

	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	Secret          string `mapstructure:"secret"`
	SessionKey      string `mapstructure:"session_key"`
	RequireApproval bool   `mapstructure:"require_approval"`
	EnforceTalk     bool   `mapstructure:"enforce_talk"`

	AuthRateLimit  int           `mapstructure:"auth_rate_limit"`
	AuthRateWindow time.Duration `mapstructure:"auth_rate_window"`

	RenegotiationWorkers int           `mapstructure:"renegotiation_workers"`
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
	ICEServers           []string      `mapstructure:"ice_servers"`
	UDPPortMin           uint16        `mapstructure:"udp_port_min"`
	UDPPortMax           uint16        `mapstructure:"udp_port_max"`

	Channels []domain.Channel `mapstructure:"channels"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists; every key has a default and may be
// overridden from the environment as SOUNDMESH_<KEY>.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("soundmesh")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("secret", PasswordEnv); err != nil {
		return nil, fmt.Errorf("bind %s: %w", PasswordEnv, err)
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SessionKey == "" {
		key := securecookie.GenerateRandomKey(sessionKeyLen)
		if key == nil {
			return nil, errors.New("generate session key")
		}
		cfg.SessionKey = string(key)
		log.Warn().Str("module", "config").Msg("session_key not set, generated a random one; client tokens will not survive a restart")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Bool("require_approval", cfg.RequireApproval).
		Bool("enforce_talk", cfg.EnforceTalk).
		Int("channels", len(cfg.Channels)).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "20s")
	v.SetDefault("pong_wait", "45s")
	v.SetDefault("handshake_timeout", "30s")
	v.SetDefault("secret", "defaultpassword")
	v.SetDefault("session_key", "")
	v.SetDefault("require_approval", false)
	v.SetDefault("enforce_talk", false)
	v.SetDefault("auth_rate_limit", 10)
	v.SetDefault("auth_rate_window", "1m")
	v.SetDefault("renegotiation_workers", 8)
	v.SetDefault("reconcile_interval", "30s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("udp_port_min", 0)
	v.SetDefault("udp_port_max", 0)
	v.SetDefault("channels", []map[string]any{
		{"id": "general", "name": "General Chat", "description": "General discussion"},
		{"id": "production", "name": "Production", "description": "Production crew"},
		{"id": "stage", "name": "Stage", "description": "On-stage talent"},
	})
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Secret == "" {
		return errors.New("secret must not be empty")
	}
	if c.PingPeriod <= 0 || c.PongWait <= c.PingPeriod {
		return fmt.Errorf("ping_period (%s) must be positive and shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("invalid reconcile_interval %s", c.ReconcileInterval)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("invalid handshake_timeout %s", c.HandshakeTimeout)
	}
	if (c.UDPPortMin == 0) != (c.UDPPortMax == 0) || c.UDPPortMin > c.UDPPortMax {
		return fmt.Errorf("invalid udp port range %d-%d", c.UDPPortMin, c.UDPPortMax)
	}
	seen := make(map[domain.ChannelID]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel %q: missing id", ch.Name)
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("channel %s: duplicate id", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("channel %s: %w", ch.ID, err)
		}
	}
	return nil
}
