package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	escrowdomain "github.com/fylaro/finternet/internal/escrow/domain"
	marketdomain "github.com/fylaro/finternet/internal/marketplace/domain"
	"github.com/fylaro/finternet/internal/observability/metrics"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
	"github.com/fylaro/finternet/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Schedule scheduledomain.Service
	Market   marketdomain.Service
	Escrow   escrowdomain.Service
}

// Scheduler drives the time-based transitions no caller triggers on its
// own: overdue/default reviews, listing expiry, and escrow auto-release.
type Scheduler struct {
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.SchedulerConfig
	schedule scheduledomain.Service
	market   marketdomain.Service
	escrow   escrowdomain.Service
	metrics  *metrics.SweepMetrics
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:      p.Log.Named("scheduler"),
		clock:    p.Clock,
		cfg:      p.Cfg.Scheduler,
		schedule: p.Schedule,
		market:   p.Market,
		escrow:   p.Escrow,
		metrics:  metrics.SweepWithConfig(metrics.Config{ServiceName: p.Cfg.ServiceName, Environment: p.Cfg.Environment}),
	}
}

// RunForever ticks until the context is cancelled. Each tick is
// independent; a failed sweep is logged and retried on the next tick.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs all sweeps for one tick.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.clock.Now()
	s.reviewSchedules(ctx, now)
	s.expireListings(ctx, now)
	s.releaseEscrows(ctx, now)
}

func (s *Scheduler) reviewSchedules(ctx context.Context, now time.Time) {
	start := time.Now()
	due, err := s.schedule.ListDueForReview(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("list schedules for review", zap.Error(err))
		s.metrics.IncError("review")
		return
	}
	for _, sched := range due {
		if _, err := s.schedule.UpdateStatus(ctx, sched.InvoiceID); err != nil {
			s.log.Warn("update schedule status",
				zap.String("invoice_id", sched.InvoiceID.String()), zap.Error(err))
			s.metrics.IncError("review")
		}
	}
	s.metrics.ObserveSweep("review", time.Since(start), len(due))
}

func (s *Scheduler) expireListings(ctx context.Context, now time.Time) {
	start := time.Now()
	expired, err := s.market.ExpireListings(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("expire listings", zap.Error(err))
		s.metrics.IncError("expire")
		return
	}
	if expired > 0 {
		s.log.Info("expired listings", zap.Int("count", expired))
	}
	s.metrics.ObserveSweep("expire", time.Since(start), expired)
}

func (s *Scheduler) releaseEscrows(ctx context.Context, now time.Time) {
	start := time.Now()
	deposits, _, err := s.escrow.ListReleasable(ctx, now, pagination.Request{PerPage: s.cfg.BatchSize})
	if err != nil {
		s.log.Warn("list releasable escrows", zap.Error(err))
		s.metrics.IncError("release")
		return
	}
	released := 0
	for _, deposit := range deposits {
		err := s.escrow.AutoRelease(ctx, deposit.InvoiceID)
		if err != nil && !errors.Is(err, escrowdomain.ErrAutoReleaseNotDue) {
			s.log.Warn("auto release escrow",
				zap.String("invoice_id", deposit.InvoiceID.String()), zap.Error(err))
			s.metrics.IncError("release")
			continue
		}
		if err == nil {
			released++
		}
	}
	s.metrics.ObserveSweep("release", time.Since(start), released)
}

// Module starts the sweep loop with the application lifecycle.
var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}
