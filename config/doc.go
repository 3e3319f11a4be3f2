// Package config loads atlasforge settings with spf13/viper: built-in
// defaults, then an optional YAML, TOML or JSON file, then ATLAS_* environment
// variables (for example ATLAS_ROUTER_FORCE_LOCAL=true). The resulting Config
// is passed to constructors explicitly; nothing reads the environment later.
package config
