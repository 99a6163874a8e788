// Package config handles configuration loading for penny-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PENNY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/penny/gateway.yaml
//  3. ~/.config/penny/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PENNY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	model:
//	  request_timeout: "90s"
//	kernel:
//	  tool_timeout: "20s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/penny/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${PENNY_JWT_SECRET}"
//
// Completion provider:
//
//	model:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${PENNY_MODEL_API_KEY}"
//	  name: "gpt-4o-mini"
//	  context_tokens: 128000
//	  input_price_per_m: 0.15
//	  output_price_per_m: 0.60
//	  request_timeout: "2m"
//
// Orchestration:
//
//	kernel:
//	  history_char_budget: 12000
//	  checkpoint_interval: 200
//	  max_tool_rounds: 8
//	  tool_timeout: "30s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/penny/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
