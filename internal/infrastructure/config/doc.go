// Package config handles loading and validating mirrorctl configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MIRRORCTL_*)
//   - Validation of required fields
//   - Resolving broker defaults from the firmware secrets.h
//
// The transport workers never read files themselves; callers resolve a
// Config here and pass the relevant sections down.
//
// Usage:
//
//	cfg, err := config.Load("mirrorctl.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	broker, _ := config.LoadSecretsHeader("include/secrets.h")
//	cfg.ApplyBroker(broker)
package config
