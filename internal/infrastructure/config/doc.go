// Package config handles loading and validating mqttlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Passwords and tokens should be set via environment variables
//   - Client private keys should live in files with restricted permissions (0600)
//   - tls.insecure disables server certificate verification; testing only
//
// Usage:
//
//	cfg, err := config.Load("configs/mqttlink.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Broker.URI)
package config
