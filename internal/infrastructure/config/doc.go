// Package config handles loading and validating sunneed configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (SUNNEED_*)
//   - Validation of required fields
//   - Default value handling
//
// Configuration is loaded once at startup; there is no runtime reload.
//
// Usage:
//
//	cfg, err := config.Load("/etc/sunneed/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Listener.SocketPath)
package config
