package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekisa-team/melotts/internal/envvar"
)

// Overrides carries values set on the command line. Nil fields are unset.
type Overrides struct {
	Host             *string
	HTTPPort         *int
	GRPCPort         *int
	Device           *string
	DisableUpsampler *bool
}

// ApplyEnv overlays MELOTTS_* environment variables. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envvar.MelottsDevice); ok && v != "" {
		c.Device = strings.ToLower(strings.TrimSpace(v))
	}

	if v, ok := lookup(envvar.MelottsEnableUpsampler); ok && v != "" {
		c.Upsampler.Enabled = ParseBool(v)
	}

	if v, ok := lookup(envvar.MelottsModelsPath); ok && v != "" {
		c.Storage.ModelsDir = v
	}

	for name, dst := range map[string]*int{
		envvar.MelottsServerHTTPPort: &c.Server.HTTPPort,
		envvar.MelottsServerGRPCPort: &c.Server.GRPCPort,
	} {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: invalid %s %q: %w", name, v, err)
		}
		*dst = port
	}

	return nil
}

// Apply overlays command line values, which take precedence over everything
// else.
func (c *Config) Apply(o Overrides) {
	if o.Host != nil {
		c.Server.Host = *o.Host
	}
	if o.HTTPPort != nil {
		c.Server.HTTPPort = *o.HTTPPort
	}
	if o.GRPCPort != nil {
		c.Server.GRPCPort = *o.GRPCPort
	}
	if o.Device != nil {
		c.Device = *o.Device
	}
	if o.DisableUpsampler != nil && *o.DisableUpsampler {
		c.Upsampler.Enabled = false
	}
}

// ParseBool accepts true, 1, yes and on (case-insensitive) as true.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
