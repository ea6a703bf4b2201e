// Package config handles configuration loading for agency-gateway.
//
// Configuration is loaded from YAML files with environment variable
// expansion (${VAR_NAME}) and duration parsing via time.ParseDuration.
//
// # Configuration Sections
//
// Server and storage:
//
//	server:
//	  http_addr: "0.0.0.0:8090"
//	database:
//	  path: "/var/lib/agency/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${AGENCY_JWT_SECRET}"
//
// Remote assistants API:
//
//	runtime:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"   # fallback when a user has no key
//	  request_timeout: "45s"
//
// Graph cache and relay:
//
//	cache:
//	  ttl: "30m"
//	  persist: true
//	relay:
//	  messages_per_minute: 20
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Load() validates that the server address, database path, JWT secret, and
// runtime base URL are present.
package config
