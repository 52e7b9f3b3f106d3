// Package config loads gatewayd's process configuration.
//
// Settings come from, in increasing precedence: built-in defaults, a
// configuration file (JSON, YAML or TOML), GATEWAY_* environment variables
// and command-line flags bound by the caller.
//
// # Configuration File Structure
//
//	server:
//	  address: ":8080"
//	  gateway_path: /gateway
//	  events_secret: change-me
//	  allowed_origins: [https://app.example.com]
//	gateway:
//	  heartbeat_interval: 41.25s
//	  resume_window: 2m
//	  dispatch_log_size: 1000
//	auth:
//	  jwt_secret: change-me
//	  algorithm: HS256
//	redis:
//	  addr: localhost:6379
//	log:
//	  level: info
//	  format: json
//
// Environment variables replace dots with underscores:
// GATEWAY_SERVER_ADDRESS, GATEWAY_AUTH_JWT_SECRET, GATEWAY_REDIS_ADDR.
package config
