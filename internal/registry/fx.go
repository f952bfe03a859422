package registry

import (
	"github.com/fylaro/finternet/internal/registry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registry.service",
	fx.Provide(service.NewService),
)
