package marketplace

import (
	"github.com/fylaro/finternet/internal/marketplace/service"
	"go.uber.org/fx"
)

// Module wires the marketplace service.
var Module = fx.Module("marketplace",
	fx.Provide(service.NewService),
)
