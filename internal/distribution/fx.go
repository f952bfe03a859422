package distribution

import (
	"github.com/fylaro/finternet/internal/distribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("distribution.service",
	fx.Provide(service.NewService),
)
