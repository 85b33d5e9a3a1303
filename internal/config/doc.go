// Package config handles configuration loading for valueapi.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Without a file, FromEnvironment builds the configuration from
// defaults and the PORT, TOKEN and ADMIN_PASSWORD variables.
//
// # Configuration File
//
// The path comes from, in order:
//
//  1. The --config flag
//  2. The VALUEAPI_CONFIG environment variable
//
// Files ending in .toml are parsed as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token: "${VALUEAPI_TOKEN}"
//
// After expansion, PORT, TOKEN and ADMIN_PASSWORD fill in server.http_addr,
// auth.token and admin.password when the file leaves them empty.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:3000"
//	  trust_proxy: false        # record X-Forwarded-For in history
//
//	storage:
//	  driver: "file"            # file, sqlite
//	  dir: "data"
//
//	auth:
//	  token: "${TOKEN}"         # seeds the Default token on first start only
//
//	admin:
//	  password: "${ADMIN_PASSWORD}"
//	  password_hash: ""         # bcrypt hash, used instead of password
//	  max_login_attempts: 5
//	  login_window: "15m"
//	  cookie_secure: false
//
//	history:
//	  limit: 1000               # initial cap; editable later in the admin UI
//
//	tailscale:
//	  enabled: false
//	  hostname: "valueapi"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
package config
