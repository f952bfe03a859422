package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fylaro/finternet/internal/config"
	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	escrowdomain "github.com/fylaro/finternet/internal/escrow/domain"
	marketdomain "github.com/fylaro/finternet/internal/marketplace/domain"
	obscontext "github.com/fylaro/finternet/internal/observability/context"
	"github.com/fylaro/finternet/internal/observability/logger"
	"github.com/fylaro/finternet/internal/observability/metrics"
	pooldomain "github.com/fylaro/finternet/internal/pool/domain"
	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
	treasurydomain "github.com/fylaro/finternet/internal/treasury/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewEngine builds the gin engine with the shared middleware stack.
func NewEngine(cfg config.Config, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(httpMetrics))
	return engine
}

type Params struct {
	fx.In

	Log          *zap.Logger
	Cfg          config.Config
	Engine       *gin.Engine
	Registry     registrydomain.Service
	Treasury     treasurydomain.Service
	Market       marketdomain.Service
	Schedule     scheduledomain.Service
	Distribution distributiondomain.Service
	Escrow       escrowdomain.Service
	Pool         pooldomain.Service
}

// Server exposes every engine operation over HTTP.
type Server struct {
	log    *zap.Logger
	cfg    config.Config
	engine *gin.Engine

	registrySvc     registrydomain.Service
	treasurySvc     treasurydomain.Service
	marketSvc       marketdomain.Service
	scheduleSvc     scheduledomain.Service
	distributionSvc distributiondomain.Service
	escrowSvc       escrowdomain.Service
	poolSvc         pooldomain.Service
}

func NewServer(p Params) *Server {
	return &Server{
		log:             p.Log.Named("server"),
		cfg:             p.Cfg,
		engine:          p.Engine,
		registrySvc:     p.Registry,
		treasurySvc:     p.Treasury,
		marketSvc:       p.Market,
		scheduleSvc:     p.Schedule,
		distributionSvc: p.Distribution,
		escrowSvc:       p.Escrow,
		poolSvc:         p.Pool,
	}
}

// RegisterAPIRoutes mounts the API under /api.
func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")

	api.POST("/invoices", s.Tokenize)
	api.GET("/invoices/:id", s.GetInvoice)
	api.GET("/invoices/external/:external_id", s.GetInvoiceByExternalID)
	api.POST("/invoices/:id/verify", s.VerifyInvoice)
	api.POST("/invoices/:id/transfers", s.TransferShares)
	api.GET("/invoices/:id/holders", s.ListHolders)
	api.GET("/invoices/:id/balance", s.ShareBalance)

	api.POST("/treasury/fund", s.FundAccount)
	api.GET("/accounts/:owner/balance", s.AccountBalance)
	api.GET("/accounts/:owner/transfers", s.ListTransfers)

	api.POST("/listings", s.CreateListing)
	api.GET("/listings/:id", s.GetListing)
	api.POST("/listings/:id/buy", s.BuyListing)
	api.POST("/listings/:id/cancel", s.CancelListing)
	api.GET("/invoices/:id/listing", s.ActiveListing)
	api.POST("/invoices/:id/bids", s.PlaceBid)
	api.GET("/invoices/:id/bids", s.ListBids)
	api.GET("/invoices/:id/bids/highest", s.HighestBid)
	api.POST("/invoices/:id/bids/accept", s.AcceptBid)
	api.POST("/bids/:id/withdraw", s.WithdrawBid)

	api.POST("/schedules", s.CreateSchedule)
	api.GET("/schedules/:invoice_id", s.GetSchedule)
	api.POST("/schedules/:invoice_id/payments", s.RecordPayment)
	api.GET("/schedules/:invoice_id/payments", s.ListPayments)
	api.POST("/schedules/:invoice_id/review", s.ReviewSchedule)
	api.POST("/schedules/:invoice_id/default", s.HandleDefault)
	api.POST("/schedules/:invoice_id/recoveries", s.RecordRecovery)
	api.GET("/schedules/:invoice_id/investors", s.ListInvestors)
	api.POST("/schedules/:invoice_id/distributions/retry", s.RetryOwedDistributions)
	api.GET("/invoices/:id/distributions", s.ListDistributions)

	api.POST("/escrows", s.DepositEscrow)
	api.GET("/escrows/:invoice_id", s.GetEscrow)
	api.POST("/escrows/:invoice_id/release", s.ReleaseEscrow)
	api.POST("/escrows/:invoice_id/auto-release", s.AutoReleaseEscrow)
	api.POST("/escrows/:invoice_id/refund", s.RefundEscrow)
	api.POST("/escrows/:invoice_id/emergency-refund", s.EmergencyRefundEscrow)

	api.GET("/pool", s.GetPool)
	api.POST("/pool/deposits", s.PoolDeposit)
	api.POST("/pool/withdrawals", s.PoolWithdraw)
	api.POST("/pool/rewards/claim", s.ClaimPoolRewards)
	api.GET("/pool/positions/:account", s.GetPoolPosition)
	api.GET("/pool/positions/:account/rewards", s.PendingPoolRewards)
	api.POST("/pool/financings", s.FinanceInvoice)
	api.POST("/pool/financings/:invoice_id/repayments", s.RecordPoolRepayment)
	api.POST("/pool/strategies", s.CreateStrategy)
	api.GET("/pool/strategies", s.ListStrategies)
	api.POST("/pool/strategies/:id/active", s.SetStrategyActive)
	api.GET("/pool/flows", s.ListPoolFlows)
}

// RunHTTP binds the engine to the configured address with the app lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{Addr: s.cfg.HTTP.Addr, Handler: s.engine}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", s.cfg.HTTP.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// actor identifies the calling account from the X-Actor header.
func actor(c *gin.Context) string {
	if value := obscontext.ActorFromGin(c); value != "" {
		return value
	}
	return strings.TrimSpace(c.GetHeader("X-Actor"))
}

func parseID(c *gin.Context, param string) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Param(param))
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		AbortWithError(c, newValidationError(param, "invalid_id", "invalid id"))
		return 0, false
	}
	return snowflake.ID(value), true
}

// snowflakeID converts a bound request field. IDs travel as JSON strings
// because they exceed the float64-safe integer range.
func snowflakeID(v int64) snowflake.ID { return snowflake.ID(v) }

func bindPage(c *gin.Context) (pagination.Request, bool) {
	var page pagination.Request
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return pagination.Request{}, false
	}
	return page, true
}

// Module wires the HTTP surface.
var Module = fx.Module("server",
	fx.Provide(NewEngine, NewServer),
	fx.Invoke(func(s *Server) { s.RegisterAPIRoutes() }),
	fx.Invoke(RunHTTP),
)
