package config

import (
	"os"

	"go.uber.org/fx"
)

// Module loads configuration from FINTERNET_CONFIG, falling back to defaults.
var Module = fx.Module("config",
	fx.Provide(func() (Config, error) {
		return Load(os.Getenv("FINTERNET_CONFIG"))
	}),
)
