package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/debtor/internal/alert/domain"
	"github.com/smallbiznis/debtor/internal/clock"
	"github.com/smallbiznis/debtor/internal/config"
	creditdomain "github.com/smallbiznis/debtor/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/debtor/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/debtor/internal/observability/metrics"
	"github.com/smallbiznis/debtor/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	CreditRepo creditdomain.Repository
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
	creditRepo creditdomain.Repository
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("alert.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		creditRepo: p.CreditRepo,
		metrics:    p.Metrics,
	}
}

type customerKey struct {
	orgID      snowflake.ID
	customerID snowflake.ID
}

// ScanOverdue walks customers with unpaid orders past their due date,
// opening or refreshing one alert per customer and resolving alerts whose
// overdue position cleared since the last pass. The overdue cutoff is
// shifted back by the configured grace period.
func (s *service) ScanOverdue(ctx context.Context) (domain.ScanReport, error) {
	asOf := s.clock.Now().Add(-s.cfg.Scheduler.OverdueGrace)
	batchSize := s.cfg.Scheduler.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	overdue, err := s.ledgerRepo.OverdueCustomers(ctx, s.db, asOf, batchSize)
	if err != nil {
		return domain.ScanReport{}, err
	}

	report := domain.ScanReport{Scanned: len(overdue)}
	seen := make(map[customerKey]struct{}, len(overdue))

	for _, row := range overdue {
		seen[customerKey{row.OrgID, row.CustomerID}] = struct{}{}

		if err := s.creditRepo.SetOverdueAmount(ctx, s.db, row.OrgID, row.CustomerID, row.OverdueAmount); err != nil {
			return report, err
		}

		existing, err := s.repo.FindOpenByCustomer(ctx, s.db, row.OrgID, row.CustomerID)
		if err != nil && !errors.Is(err, domain.ErrAlertNotFound) {
			return report, err
		}

		if existing != nil {
			if err := s.repo.Refresh(ctx, s.db, existing.ID, row.OverdueAmount, row.OldestDueDate, s.clock.Now()); err != nil {
				return report, err
			}
			report.Refreshed++
			continue
		}

		now := s.clock.Now()
		alert := domain.DebtAlert{
			ID:              s.genID.Generate(),
			OrgID:           row.OrgID,
			CustomerID:      row.CustomerID,
			OverdueAmount:   row.OverdueAmount,
			OldestDueDate:   row.OldestDueDate,
			Status:          domain.AlertStatusOpen,
			FirstDetectedAt: now,
			LastEvaluatedAt: now,
		}
		if err := s.repo.Insert(ctx, s.db, &alert); err != nil {
			return report, err
		}
		report.Opened++
		if s.metrics != nil {
			s.metrics.RecordDebtAlert(ctx, "opened")
		}
		s.log.Info("debt alert opened",
			zap.String("org_id", row.OrgID.String()),
			zap.String("customer_id", row.CustomerID.String()),
			zap.Int64("overdue_amount", row.OverdueAmount))
	}

	open, err := s.repo.ListAllOpen(ctx, s.db, batchSize)
	if err != nil {
		return report, err
	}
	for _, alert := range open {
		if _, stillOverdue := seen[customerKey{alert.OrgID, alert.CustomerID}]; stillOverdue {
			continue
		}
		// The scan batch may not have covered this customer; confirm against
		// the ledger before resolving.
		rows, err := s.ledgerRepo.Overdue(ctx, s.db, alert.OrgID, &alert.CustomerID, asOf)
		if err != nil {
			return report, err
		}
		if len(rows) > 0 {
			continue
		}
		if err := s.repo.Resolve(ctx, s.db, alert.ID, s.clock.Now()); err != nil {
			return report, err
		}
		if err := s.creditRepo.SetOverdueAmount(ctx, s.db, alert.OrgID, alert.CustomerID, 0); err != nil {
			return report, err
		}
		report.Resolved++
		if s.metrics != nil {
			s.metrics.RecordDebtAlert(ctx, "resolved")
		}
		s.log.Info("debt alert resolved",
			zap.String("org_id", alert.OrgID.String()),
			zap.String("customer_id", alert.CustomerID.String()))
	}

	return report, nil
}

func (s *service) ListOpen(ctx context.Context) ([]domain.DebtAlert, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	rows, err := s.repo.ListOpen(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.DebtAlert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, *row)
	}
	return alerts, nil
}
