package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the gateway's protocol and resource settings.
type Config struct {
	// Liveness

	// HeartbeatInterval is announced in HELLO. Clients send HEARTBEAT at
	// this interval.
	// Default: 41.25 seconds.
	HeartbeatInterval time.Duration

	// HeartbeatGrace is the number of intervals that may pass without a
	// HEARTBEAT before the connection is closed.
	// Default: 2.
	HeartbeatGrace int

	// IdentifyTimeout is how long a new connection may stay unidentified.
	// Default: 30 seconds.
	IdentifyTimeout time.Duration

	// VerifyTimeout bounds a single credential verification.
	// Default: 5 seconds.
	VerifyTimeout time.Duration

	// Resumption

	// ResumeWindow is how long a disconnected session stays resumable.
	// Default: 2 minutes.
	ResumeWindow time.Duration

	// DispatchLogSize is the number of recent dispatches kept per session.
	// Default: 1000.
	DispatchLogSize int

	// ResumeURL is advertised in READY. Empty means "reconnect to the same URL".
	ResumeURL string

	// CleanupInterval is how often expired sessions are purged.
	// Default: 15 seconds.
	CleanupInterval time.Duration

	// Connection limits

	// SendQueueSize is the per-connection outbound buffer, in frames. It must
	// be larger than DispatchLogSize so a full replay always fits.
	// Default: 1100.
	SendQueueSize int

	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	// Default: 4096.
	MaxMessageSize int64

	// WriteTimeout bounds a single frame write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// InboundRate is the sustained number of frames per second a client may
	// send. 0 disables rate limiting.
	// Default: 2.
	InboundRate float64

	// InboundBurst is the burst size for InboundRate.
	// Default: 120.
	InboundBurst int

	// Registry

	// Shards is the number of registry shards.
	// Default: 32.
	Shards int
}

// replayHeadroom is room in the send queue beyond a full replay for HELLO,
// heartbeat acks and RESUMED.
const replayHeadroom = 8

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 41250 * time.Millisecond,
		HeartbeatGrace:    2,
		IdentifyTimeout:   30 * time.Second,
		VerifyTimeout:     5 * time.Second,
		ResumeWindow:      2 * time.Minute,
		DispatchLogSize:   1000,
		CleanupInterval:   15 * time.Second,
		SendQueueSize:     1100,
		MaxMessageSize:    4096,
		WriteTimeout:      10 * time.Second,
		InboundRate:       2,
		InboundBurst:      120,
		Shards:            32,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.HeartbeatInterval <= 0:
		return errors.New("gateway: heartbeat interval must be positive")
	case c.HeartbeatGrace < 1:
		return errors.New("gateway: heartbeat grace must be at least 1")
	case c.IdentifyTimeout <= 0:
		return errors.New("gateway: identify timeout must be positive")
	case c.VerifyTimeout <= 0:
		return errors.New("gateway: verify timeout must be positive")
	case c.ResumeWindow <= 0:
		return errors.New("gateway: resume window must be positive")
	case c.DispatchLogSize < 1:
		return errors.New("gateway: dispatch log size must be at least 1")
	case c.CleanupInterval <= 0:
		return errors.New("gateway: cleanup interval must be positive")
	case c.SendQueueSize < c.DispatchLogSize+replayHeadroom:
		return fmt.Errorf("gateway: send queue size %d must be at least dispatch log size + %d",
			c.SendQueueSize, replayHeadroom)
	case c.MaxMessageSize <= 0:
		return errors.New("gateway: max message size must be positive")
	case c.WriteTimeout <= 0:
		return errors.New("gateway: write timeout must be positive")
	case c.InboundRate < 0:
		return errors.New("gateway: inbound rate must not be negative")
	case c.InboundRate > 0 && c.InboundBurst < 1:
		return errors.New("gateway: inbound burst must be at least 1")
	case c.Shards < 1:
		return errors.New("gateway: shards must be at least 1")
	}
	return nil
}

// heartbeatDeadline is how long a connection may go without a heartbeat.
func (c *Config) heartbeatDeadline() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.HeartbeatGrace)
}
