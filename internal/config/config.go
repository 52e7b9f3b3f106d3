package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vango-dev/gateway/pkg/auth"
	"github.com/vango-dev/gateway/pkg/gateway"
)

const (
	// ConfigName is the file name searched for when no path is given.
	ConfigName = "gatewayd"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "GATEWAY"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"
)

// Config is the complete gatewayd configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Presence PresenceConfig `mapstructure:"presence"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`

	// configPath stores the path the config was loaded from.
	configPath string
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	GatewayPath       string        `mapstructure:"gateway_path"`
	EventsSecret      string        `mapstructure:"events_secret"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	ConnectRateLimit  int           `mapstructure:"connect_rate_limit"`
	MaxEventBody      int64         `mapstructure:"max_event_body"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// GatewayConfig contains session protocol settings. Zero values keep the
// gateway defaults.
type GatewayConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatGrace    int           `mapstructure:"heartbeat_grace"`
	IdentifyTimeout   time.Duration `mapstructure:"identify_timeout"`
	VerifyTimeout     time.Duration `mapstructure:"verify_timeout"`
	ResumeWindow      time.Duration `mapstructure:"resume_window"`
	ResumeURL         string        `mapstructure:"resume_url"`
	DispatchLogSize   int           `mapstructure:"dispatch_log_size"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	InboundRate       float64       `mapstructure:"inbound_rate"`
	InboundBurst      int           `mapstructure:"inbound_burst"`
	Shards            int           `mapstructure:"shards"`
}

// AuthConfig contains credential verification settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Algorithm string        `mapstructure:"algorithm"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

// RedisConfig contains the shared Redis connection. An empty Addr runs
// the gateway standalone.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// PresenceConfig contains presence claim settings.
type PresenceConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Instance  string        `mapstructure:"instance"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New creates a Config with default values.
func New() *Config {
	gw := gateway.DefaultConfig()
	srv := gateway.DefaultServerConfig()
	return &Config{
		Server: ServerConfig{
			Address:           DefaultAddress,
			GatewayPath:       srv.GatewayPath,
			ConnectRateLimit:  srv.ConnectRateLimit,
			MaxEventBody:      srv.MaxEventBody,
			ReadHeaderTimeout: srv.ReadHeaderTimeout,
			ShutdownTimeout:   srv.ShutdownTimeout,
		},
		Gateway: GatewayConfig{
			HeartbeatInterval: gw.HeartbeatInterval,
			HeartbeatGrace:    gw.HeartbeatGrace,
			IdentifyTimeout:   gw.IdentifyTimeout,
			VerifyTimeout:     gw.VerifyTimeout,
			ResumeWindow:      gw.ResumeWindow,
			DispatchLogSize:   gw.DispatchLogSize,
			SendQueueSize:     gw.SendQueueSize,
			CleanupInterval:   gw.CleanupInterval,
			MaxMessageSize:    gw.MaxMessageSize,
			WriteTimeout:      gw.WriteTimeout,
			InboundRate:       gw.InboundRate,
			InboundBurst:      gw.InboundBurst,
			Shards:            gw.Shards,
		},
		Auth: AuthConfig{
			Algorithm: auth.AlgHS256,
		},
		Redis: RedisConfig{
			Channel: "gateway:events",
		},
		Presence: PresenceConfig{
			Enabled:   true,
			KeyPrefix: "gateway:presence:",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "gateway",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration into v. An empty path searches the working
// directory for gatewayd.{json,yaml,toml} and tolerates its absence; a
// given path must exist. A nil v uses a fresh viper instance.
func Load(path string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, New())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.configPath = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to
// settings absent from the file.
func setDefaults(v *viper.Viper, c *Config) {
	defaults := map[string]any{
		"server.address":             c.Server.Address,
		"server.gateway_path":        c.Server.GatewayPath,
		"server.events_secret":       c.Server.EventsSecret,
		"server.allowed_origins":     c.Server.AllowedOrigins,
		"server.connect_rate_limit":  c.Server.ConnectRateLimit,
		"server.max_event_body":      c.Server.MaxEventBody,
		"server.read_header_timeout": c.Server.ReadHeaderTimeout,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,

		"gateway.heartbeat_interval": c.Gateway.HeartbeatInterval,
		"gateway.heartbeat_grace":    c.Gateway.HeartbeatGrace,
		"gateway.identify_timeout":   c.Gateway.IdentifyTimeout,
		"gateway.verify_timeout":     c.Gateway.VerifyTimeout,
		"gateway.resume_window":      c.Gateway.ResumeWindow,
		"gateway.resume_url":         c.Gateway.ResumeURL,
		"gateway.dispatch_log_size":  c.Gateway.DispatchLogSize,
		"gateway.send_queue_size":    c.Gateway.SendQueueSize,
		"gateway.cleanup_interval":   c.Gateway.CleanupInterval,
		"gateway.max_message_size":   c.Gateway.MaxMessageSize,
		"gateway.write_timeout":      c.Gateway.WriteTimeout,
		"gateway.inbound_rate":       c.Gateway.InboundRate,
		"gateway.inbound_burst":      c.Gateway.InboundBurst,
		"gateway.shards":             c.Gateway.Shards,

		"auth.jwt_secret": c.Auth.JWTSecret,
		"auth.algorithm":  c.Auth.Algorithm,
		"auth.issuer":     c.Auth.Issuer,
		"auth.audience":   c.Auth.Audience,
		"auth.leeway":     c.Auth.Leeway,

		"redis.addr":     c.Redis.Addr,
		"redis.password": c.Redis.Password,
		"redis.db":       c.Redis.DB,
		"redis.channel":  c.Redis.Channel,

		"presence.enabled":    c.Presence.Enabled,
		"presence.ttl":        c.Presence.TTL,
		"presence.key_prefix": c.Presence.KeyPrefix,
		"presence.instance":   c.Presence.Instance,

		"metrics.enabled":   c.Metrics.Enabled,
		"metrics.namespace": c.Metrics.Namespace,

		"log.level":  c.Log.Level,
		"log.format": c.Log.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.configPath
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.GatewayPath, "/") {
		return fmt.Errorf("config: server.gateway_path %q must start with /", c.Server.GatewayPath)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	if !slices.Contains([]string{"", auth.AlgHS256, auth.AlgEdDSA}, c.Auth.Algorithm) {
		return fmt.Errorf("config: unsupported auth.algorithm %q", c.Auth.Algorithm)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("config: log.format must be json or text, got %q", c.Log.Format)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if _, err := url.Parse(origin); err != nil {
			return fmt.Errorf("config: invalid allowed origin %q: %w", origin, err)
		}
	}
	return c.GatewayConfig().Validate()
}

// GatewayConfig converts the gateway section.
func (c *Config) GatewayConfig() *gateway.Config {
	g := c.Gateway
	cfg := gateway.DefaultConfig()
	setIf(&cfg.HeartbeatInterval, g.HeartbeatInterval)
	setIf(&cfg.HeartbeatGrace, g.HeartbeatGrace)
	setIf(&cfg.IdentifyTimeout, g.IdentifyTimeout)
	setIf(&cfg.VerifyTimeout, g.VerifyTimeout)
	setIf(&cfg.ResumeWindow, g.ResumeWindow)
	setIf(&cfg.ResumeURL, g.ResumeURL)
	setIf(&cfg.DispatchLogSize, g.DispatchLogSize)
	setIf(&cfg.SendQueueSize, g.SendQueueSize)
	setIf(&cfg.CleanupInterval, g.CleanupInterval)
	setIf(&cfg.MaxMessageSize, g.MaxMessageSize)
	setIf(&cfg.WriteTimeout, g.WriteTimeout)
	setIf(&cfg.InboundBurst, g.InboundBurst)
	setIf(&cfg.Shards, g.Shards)
	cfg.InboundRate = g.InboundRate
	return cfg
}

func setIf[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// ServerConfig converts the server section. Origins are checked against
// AllowedOrigins when it is not empty.
func (c *Config) ServerConfig() *gateway.ServerConfig {
	s := c.Server
	cfg := gateway.DefaultServerConfig()
	cfg.Address = s.Address
	cfg.GatewayPath = s.GatewayPath
	cfg.EventsSecret = s.EventsSecret
	cfg.ConnectRateLimit = s.ConnectRateLimit
	setIf(&cfg.MaxEventBody, s.MaxEventBody)
	setIf(&cfg.ReadHeaderTimeout, s.ReadHeaderTimeout)
	setIf(&cfg.ShutdownTimeout, s.ShutdownTimeout)
	if len(s.AllowedOrigins) > 0 {
		allowed := slices.Clone(s.AllowedOrigins)
		cfg.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin)
		}
	}
	return cfg
}

// JWTConfig converts the auth section.
func (c *Config) JWTConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:    c.Auth.JWTSecret,
		Algorithm: c.Auth.Algorithm,
		Issuer:    c.Auth.Issuer,
		Audience:  c.Auth.Audience,
		Leeway:    c.Auth.Leeway,
	}
}

// PresenceTTL is the configured claim TTL, or the heartbeat deadline plus
// the resume window when unset.
func (c *Config) PresenceTTL() time.Duration {
	if c.Presence.TTL > 0 {
		return c.Presence.TTL
	}
	g := c.GatewayConfig()
	return g.HeartbeatInterval*time.Duration(g.HeartbeatGrace) + g.ResumeWindow
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: invalid log.level %q", c.Log.Level)
	}
	return level, nil
}
