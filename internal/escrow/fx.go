package escrow

import (
	"github.com/fylaro/finternet/internal/escrow/service"
	"go.uber.org/fx"
)

// Module wires the escrow service.
var Module = fx.Module("escrow",
	fx.Provide(service.NewService),
)
