package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	alertdomain "github.com/smallbiznis/debtor/internal/alert/domain"
	auditdomain "github.com/smallbiznis/debtor/internal/audit/domain"
	auditcontext "github.com/smallbiznis/debtor/internal/auditcontext"
	"github.com/smallbiznis/debtor/internal/clock"
	obsmetrics "github.com/smallbiznis/debtor/internal/observability/metrics"
	"github.com/smallbiznis/debtor/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const overdueScanJob = "overdue_scan"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	AlertSvc alertdomain.Service
	Clock    clock.Clock
	Limiter  *ratelimit.CreditCheckLimiter `optional:"true"`
	Config   Config                        `optional:"true"`
}

// Scheduler drives the periodic overdue scan. When a redis locker is
// configured the scan is single-flight across replicas; without one each
// replica runs it locally.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	alertSvc alertdomain.Service
	limiter  *ratelimit.CreditCheckLimiter
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.AlertSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		alertSvc: p.AlertSvc,
		limiter:  p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	if s.limiter.Enabled() {
		token, ok, err := s.limiter.TryJobLock(ctx, name)
		if err != nil {
			s.log.Warn("job lock unavailable, running locally",
				zap.String("job", name), zap.Error(err))
		} else if !ok {
			schedMetrics.IncLockMiss(name)
			s.log.Debug("job lock held elsewhere, skipping", zap.String("job", name))
			return nil
		} else {
			defer func() {
				if err := s.limiter.ReleaseJobLock(ctx, name, token); err != nil {
					s.log.Warn("failed to release job lock",
						zap.String("job", name), zap.Error(err))
				}
			}()
		}
	}

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err))
		return nil
	}

	schedMetrics.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runJob(ctx, overdueScanJob, s.cfg.JobTimeout, func(ctx context.Context) error {
		report, err := s.alertSvc.ScanOverdue(ctx)
		if err != nil {
			return err
		}
		s.log.Info("overdue scan finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("opened", report.Opened),
			zap.Int("refreshed", report.Refreshed),
			zap.Int("resolved", report.Resolved))
		return nil
	})
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
