package config

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/vango-dev/gateway/pkg/auth"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Gateway.HeartbeatInterval != 41250*time.Millisecond {
		t.Errorf("Gateway.HeartbeatInterval = %v", cfg.Gateway.HeartbeatInterval)
	}
	if cfg.Auth.Algorithm != auth.AlgHS256 {
		t.Errorf("Auth.Algorithm = %q", cfg.Auth.Algorithm)
	}
	// A secret is mandatory.
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() without jwt secret = nil, want error")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "gatewayd.yaml", `
server:
  address: ":9000"
  events_secret: push
  allowed_origins: [https://app.example.com]
gateway:
  heartbeat_interval: 10s
  resume_window: 30s
  dispatch_log_size: 50
  send_queue_size: 100
auth:
  jwt_secret: s3cret
log:
  level: debug
  format: text
`)
	cfg, err := Load(path, viper.New())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
	if cfg.Server.Address != ":9000" || cfg.Server.EventsSecret != "push" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	// Unset keys keep their defaults.
	if cfg.Server.GatewayPath != "/gateway" {
		t.Errorf("GatewayPath = %q, want /gateway", cfg.Server.GatewayPath)
	}

	gw := cfg.GatewayConfig()
	if gw.HeartbeatInterval != 10*time.Second || gw.ResumeWindow != 30*time.Second {
		t.Errorf("gateway config = %+v", gw)
	}
	if gw.DispatchLogSize != 50 || gw.SendQueueSize != 100 {
		t.Errorf("log/queue = %d/%d", gw.DispatchLogSize, gw.SendQueueSize)
	}
	if cfg.PresenceTTL() != 50*time.Second {
		t.Errorf("PresenceTTL = %v, want 50s", cfg.PresenceTTL())
	}

	srv := cfg.ServerConfig()
	req := httptest.NewRequest("GET", "/gateway", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if srv.CheckOrigin(req) {
		t.Error("CheckOrigin accepted a foreign origin")
	}
	req.Header.Set("Origin", "https://app.example.com")
	if !srv.CheckOrigin(req) {
		t.Error("CheckOrigin rejected an allowed origin")
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"gatewayd.json", `{"auth":{"jwt_secret":"s"},"redis":{"addr":"localhost:6379"}}`},
		{"gatewayd.toml", "[auth]\njwt_secret = \"s\"\n[redis]\naddr = \"localhost:6379\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.name, tt.content), viper.New())
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if cfg.Redis.Addr != "localhost:6379" {
				t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
			}
			if cfg.Redis.Channel != "gateway:events" {
				t.Errorf("Redis.Channel = %q", cfg.Redis.Channel)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_AUTH_JWT_SECRET", "from-env")
	t.Setenv("GATEWAY_SERVER_ADDRESS", ":7000")
	t.Setenv("GATEWAY_GATEWAY_RESUME_WINDOW", "45s")

	path := writeFile(t, "gatewayd.yaml", "server:\n  address: \":9000\"\n")
	cfg, err := Load(path, viper.New())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Address != ":7000" {
		t.Errorf("Address = %q, want env override", cfg.Server.Address)
	}
	if cfg.Gateway.ResumeWindow != 45*time.Second {
		t.Errorf("ResumeWindow = %v", cfg.Gateway.ResumeWindow)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), viper.New()); err == nil {
		t.Error("Load of a missing explicit path should fail")
	}

	// Without a path the search tolerates absence.
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_AUTH_JWT_SECRET", "x")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load without file: %v", err)
	}
	if cfg.Path() != "" {
		t.Errorf("Path() = %q, want empty", cfg.Path())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad path", func(c *Config) { c.Server.GatewayPath = "gateway" }, "gateway_path"},
		{"bad algorithm", func(c *Config) { c.Auth.Algorithm = "RS256" }, "algorithm"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"small queue", func(c *Config) { c.Gateway.SendQueueSize = 10 }, "send queue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			cfg.Auth.JWTSecret = "s"
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestJWTConfig(t *testing.T) {
	cfg := New()
	cfg.Auth.JWTSecret = "s"
	cfg.Auth.Issuer = "gatewayd"

	jc := cfg.JWTConfig()
	if jc.Secret != "s" || jc.Issuer != "gatewayd" || jc.Algorithm != auth.AlgHS256 {
		t.Errorf("JWTConfig = %+v", jc)
	}
	if _, err := auth.NewJWTVerifier(jc); err != nil {
		t.Errorf("NewJWTVerifier: %v", err)
	}
}
