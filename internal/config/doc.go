// Package config handles configuration loading for coven-console.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. --config flag
//  2. Path from COVEN_CONSOLE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/console.yaml
//  4. ~/.config/coven/console.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_CONSOLE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8090"
//	  base_url: "https://console.example"   # optional
//
//	auth:
//	  jwt_secret: "${COVEN_CONSOLE_JWT_SECRET}"   # at least 32 bytes
//	  admin_password_hash: "$2a$10$..."
//	  session_ttl: "12h"
//
//	matrix:
//	  homeserver: "https://hs.example"
//	  user_id: "@bot:hs.example"
//	  access_token: "${COVEN_MATRIX_TOKEN}"
//	  device_id: ""        # defaults to whoami
//	  hostname: ""         # defaults to the user ID's server
//	  recovery_key: "${COVEN_RECOVERY_KEY}"
//
//	moderation:
//	  instance_url: "https://mod.example"
//	  window_name: "moderation"
//	  poll_interval: "100ms"
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
package config
