// Package config handles configuration loading for opsdesk-gateway.
//
// # Configuration File
//
// The gateway reads the path in OPSDESK_CONFIG, falling back to
// ~/.config/opsdesk/gateway.yaml. Files ending in .toml are parsed as TOML;
// anything else is parsed as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${OPSDESK_JWT_SECRET}"
//
// OPSDESK_DB_PATH, when set, replaces database.path after parsing.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//
//	database:
//	  path: "/var/lib/opsdesk/chat.db"
//
//	auth:
//	  jwt_secret: "${OPSDESK_JWT_SECRET}"   # required
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
//	stream:
//	  write_timeout: "10s"
//	  buffer_size: 64
//
// The same keys work as TOML tables ([server], [stream], ...).
package config
