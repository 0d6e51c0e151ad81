// Package config loads and validates the TOML configuration consumed by the
// scoreforge daemon and CLI. Defaults are always applied first; a config file
// only overrides what it names. Artifact retention is fixed; every job
// expires 30 minutes after submission.
package config
