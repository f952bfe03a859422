package pool

import (
	"github.com/fylaro/finternet/internal/pool/service"
	"go.uber.org/fx"
)

// Module wires the liquidity pool service.
var Module = fx.Module("pool",
	fx.Provide(service.NewService),
)
