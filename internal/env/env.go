// Package env resolves the runtime environment the server runs in.
package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/melotts/internal/envvar"
)

// Environment is the deployment environment of the process.
type Environment string

const (
	// Development enables human friendly, colored logs.
	Development Environment = "development"

	// Production emits JSON logs.
	Production Environment = "production"
)

// FromEnv reads the environment from MELOTTS_ENV, defaulting to development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.MelottsEnv))
}

// Parse maps a raw value to an Environment. Unknown values map to development.
func Parse(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return Production
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
