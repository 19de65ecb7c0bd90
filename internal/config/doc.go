// Package config handles configuration loading for glimpse-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; a gateway can run
// with a nearly empty file (auth disabled, memory conversation store, local
// audio directory).
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from GLIMPSE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/glimpse/gateway.yaml
//  3. ~/.config/glimpse/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	conversations:
//	  ttl: "30m"
//	  sweep_interval: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":8080"
//	  public_base_url: "https://glimpse.example.com"
//
// Upstream providers:
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//	    model: "gpt-4o"
//	  timeout: "30s"
//
// Speech synthesis:
//
//	speech:
//	  provider: "openai"
//	  api_key: "${OPENAI_API_KEY}"
//	  voice: "alloy"
//	  speed: 1.0
//	  format: "mp3"
//
// Rate limits:
//
//	limits:
//	  per_address: 60
//	  per_credential: 100
//	  window: "60s"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "glimpse"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true    # serve on :443 with Tailscale certificates
//	  funnel: false  # expose publicly via Tailscale Funnel (implies https)
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "json"  # text, json
package config
