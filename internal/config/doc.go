// Package config loads and validates the service configuration from YAML
// and resolves defaults into immutable pipeline configurations.
package config
