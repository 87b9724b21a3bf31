// Package logging wraps log/slog for Warden.
//
// Every record carries service and version. Attributes named like a
// credential (password, salt, token, refresh_token, secret, passphrase,
// authorization) are replaced with [REDACTED] before they reach the sink,
// so a careless log call cannot leak a session token.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("auth").Info("login succeeded", "user_id", id)
//
// Log user ids, never user names paired with failure reasons.
package logging
