package config

import (
	"github.com/jpalmerr/cascade"
)

// BuildOptions converts parsed configuration into bridge options.
//
// Logging is not configured here; callers add their logger with
// [cascade.WithContextOptions].
func BuildOptions(cfg *Config) []cascade.BridgeOption {
	opts := []cascade.BridgeOption{
		cascade.WithPort(cfg.Port),
	}

	if cfg.Origin != "" {
		opts = append(opts, cascade.WithContextOptions(cascade.WithOrigin(cfg.Origin)))
	}

	if len(cfg.Values) > 0 {
		opts = append(opts, cascade.WithSeedValues(cfg.Values))
	}

	if cfg.Seed.Path != "" {
		opts = append(opts,
			cascade.WithSeedFile(cfg.Seed.Path),
			cascade.WithSeedWatch(cfg.Seed.Watch),
		)
	}

	return opts
}
