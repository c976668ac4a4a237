package cascade

import (
	"errors"
)

// bridgeConfig holds mutable state during Bridge construction.
type bridgeConfig struct {
	port           int
	seedFile       string
	watchSeed      bool
	seedValues     map[string]any
	contextOptions []Option
}

// BridgeOption is a function that configures a [Bridge] during construction.
//
// Built-in options: [WithPort], [WithSeedFile], [WithSeedWatch],
// [WithSeedValues], [WithContextOptions].
type BridgeOption func(*bridgeConfig) error

// WithPort sets the HTTP port the bridge listens on. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) BridgeOption {
	return func(cfg *bridgeConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithSeedFile loads the key/value pairs of a YAML or JSON file into the
// context when the bridge starts.
//
// Returns an error if path is empty.
func WithSeedFile(path string) BridgeOption {
	return func(cfg *bridgeConfig) error {
		if path == "" {
			return errors.New("seed file path cannot be empty")
		}
		cfg.seedFile = path
		return nil
	}
}

// WithSeedWatch re-applies the seed file whenever it changes on disk. Only
// keys whose value changed are written. Requires [WithSeedFile].
func WithSeedWatch(watch bool) BridgeOption {
	return func(cfg *bridgeConfig) error {
		cfg.watchSeed = watch
		return nil
	}
}

// WithSeedValues writes values into the context when the bridge starts,
// before the seed file is applied. Values must be JSON-encodable.
//
// Can be called multiple times; later calls override earlier keys.
func WithSeedValues(values map[string]any) BridgeOption {
	return func(cfg *bridgeConfig) error {
		if cfg.seedValues == nil {
			cfg.seedValues = make(map[string]any, len(values))
		}
		for k, v := range values {
			cfg.seedValues[k] = v
		}
		return nil
	}
}

// WithContextOptions passes options to the bridge's [Context].
//
// Example:
//
//	bridge, err := cascade.NewBridge(
//	    cascade.WithPort(7070),
//	    cascade.WithContextOptions(
//	        cascade.WithOrigin("dev-server"),
//	        cascade.WithLogger(logger),
//	    ),
//	)
func WithContextOptions(opts ...Option) BridgeOption {
	return func(cfg *bridgeConfig) error {
		cfg.contextOptions = append(cfg.contextOptions, opts...)
		return nil
	}
}
