// Package logging provides structured logging for mqttlink.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same format, level filtering and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connecting", "uri", uri, "protocol", "5")
//
// # Security
//
// Never log passwords, private keys or tokens. The MQTT client logs only
// whether credentials are present.
package logging
