package catalog

import "go.uber.org/fx"

// Module provides the built-in catalog. It is loaded once and never mutated.
var Module = fx.Module("catalog",
	fx.Provide(Default),
)
