// Package config loads the trade-relay YAML configuration.
//
// ${VAR} references are expanded from the environment, which may be seeded
// from a .env file first.
package config
