// Package config provides configuration loading for the council runtime.
// It parses the YAML configuration file, applies defaults and environment
// overrides for signing keys, normalizes case for networks, venues, token
// symbols and addresses, and validates every configured address at load time.
package config
