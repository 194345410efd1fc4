package config

import (
	"go.uber.org/fx"
)

// Loader resolves the configuration for a single invocation. The command
// layer calls it after flag parsing so --config and the other overrides
// participate in the layering.
type Loader func(path string, o Overrides) (*Config, error)

var Module = fx.Module("config", fx.Provide(
	// Commands resolve configuration only once flags are parsed, so the
	// container provides the resolver rather than an eagerly loaded Config.
	func() Loader { return Resolve },
))
