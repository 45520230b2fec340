// ABOUTME: Package documentation for the config package
// ABOUTME: Describes the YAML configuration format and loading behavior

// Package config loads and validates persona-gateway configuration from YAML.
//
// # Format
//
// Configuration is a single YAML file:
//
//	server:
//	  http_addr: ":8080"
//
//	letta:
//	  base_url: http://localhost:8283
//	  api_key: ${LETTA_API_KEY}
//	  timeout: 30s
//
//	database:
//	  path: /var/lib/persona-gateway/gateway.db
//
//	cookie_auth:
//	  enabled: true
//	  secret: ${SESSION_SECRET}
//	  cookie_name: persona_uid
//	  max_age: 720h
//
//	agents:
//	  template_path: default-agent.toml
//	  create_from_ui: true
//
//	rate_limit:
//	  read:
//	    requests: 200
//	    window: 1m
//	  send:
//	    requests: 30
//	    window: 1m
//
//	cache:
//	  agent_list_ttl: 60s
//	  max_entries: 1024
//
//	reconcile:
//	  enabled: true
//	  schedule: "@every 5m"
//
//	logging:
//	  level: info
//	  format: text
//
// # Environment Variable Expansion
//
// Values in the format ${VAR_NAME} are replaced with the corresponding
// environment variable before parsing. Unset variables expand to the empty
// string.
//
// # Durations
//
// Duration fields (timeout, max_age, window, agent_list_ttl) accept Go
// duration strings such as "30s", "1m", or "720h".
//
// # Validation
//
// Load applies defaults for unset fields and fails when database.path is
// missing or cookie_auth is enabled without a secret.
package config
