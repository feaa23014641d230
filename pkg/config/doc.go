// Package config provides configuration management for the NextGuard
// endpoint agent.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides. Every component reads its
// own closed section; there are no free-form maps.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("agent.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("agent.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention NEXTGUARD_SECTION_FIELD.
// For example:
//
//   - NEXTGUARD_SYNC_BASE_URL overrides sync.base_url
//   - NEXTGUARD_AGENT_DATA_DIR overrides agent.data_dir
//   - NEXTGUARD_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Presets for fields whose zero value is meaningful
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Remaining defaults, including paths derived from agent.data_dir
//  5. Validation (fails fast if invalid)
//
// # Secrets
//
// Credential fields may hold ${secret:name} references. They are expanded
// by ResolveSecrets after loading, using a secrets.Manager.
package config
