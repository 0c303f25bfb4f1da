package eventbridge

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/tollgate/internal/config"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8765
	// DefaultMaxBodyBytes caps one posted event at 64 KB.
	DefaultMaxBodyBytes int64 = 64 << 10

	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 15 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// Settings configures the trigger intake server.
type Settings struct {
	Enabled bool
	Host    string
	// Port 0 binds an ephemeral port; Server.BaseURL reports the real one.
	Port int
	// Token, when non-empty, is required as a bearer token on every
	// request except /health.
	Token        string
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultSettings is an enabled loopback server without authentication.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// SettingsFromConfig layers the project's bridge section over the defaults.
// TOLLGATE_BRIDGE_* environment overrides are already applied by config.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	bridge := cfg.Project.Bridge
	if bridge.Enabled != nil {
		s.Enabled = *bridge.Enabled
	}
	if host := strings.TrimSpace(bridge.Host); host != "" {
		s.Host = host
	}
	if bridge.Port > 0 && bridge.Port <= 65535 {
		s.Port = bridge.Port
	}
	s.Token = strings.TrimSpace(bridge.Token)
	return s.withDefaults()
}

// withDefaults fills zero or out-of-range fields.
func (s Settings) withDefaults() Settings {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	return s
}

// Address is the bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL is the configured base URL.
func (s Settings) URL() string {
	return "http://" + s.Address()
}
