package logger

import (
	"github.com/fylaro/finternet/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Production uses JSON, everything else the
// development console encoder.
func New(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		c := zap.NewProductionConfig()
		c.EncoderConfig.TimeKey = "ts"
		c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return c.Build()
	}
	return zap.NewDevelopment()
}

// Module provides the zap logger and routes fx's own events through it.
var Module = fx.Module("logger",
	fx.Provide(New),
)
