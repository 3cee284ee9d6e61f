package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/debtor/internal/audit/domain"
	"github.com/smallbiznis/debtor/internal/clock"
	"github.com/smallbiznis/debtor/internal/config"
	"github.com/smallbiznis/debtor/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/debtor/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/debtor/internal/observability/metrics"
	"github.com/smallbiznis/debtor/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// paymentPatternWindow is how far back payments count toward the pattern.
const paymentPatternWindow = 6 * 30 * 24 * time.Hour

type Params struct {
	fx.In
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	Audit      auditdomain.Service
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
	audit      auditdomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		audit:      p.Audit,
		metrics:    p.Metrics,
	}
}

func (s *service) resolveCustomer(ctx context.Context, rawCustomerID string) (snowflake.ID, snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, 0, domain.ErrInvalidOrganization
	}
	customerID, err := snowflake.ParseString(rawCustomerID)
	if err != nil {
		return 0, 0, domain.ErrInvalidCustomer
	}
	return orgID, customerID, nil
}

// syncDebt recomputes the debt from the ledger and corrects the cached value
// when it has drifted. The ledger sum is clamped at zero: overpayments reduce
// debt to zero, they never create a balance in the customer's favour.
func (s *service) syncDebt(ctx context.Context, credit *domain.CustomerCredit) (*domain.CustomerCredit, error) {
	sum, err := s.ledgerRepo.SumForCustomer(ctx, s.db, credit.OrgID, credit.CustomerID)
	if err != nil {
		return nil, err
	}
	calculated := sum
	if calculated < 0 {
		calculated = 0
	}

	if calculated != credit.CurrentDebt {
		s.log.Warn("debt drift detected, syncing from ledger",
			zap.String("org_id", credit.OrgID.String()),
			zap.String("customer_id", credit.CustomerID.String()),
			zap.Int64("cached_debt", credit.CurrentDebt),
			zap.Int64("calculated_debt", calculated))
		if err := s.repo.SetDebt(ctx, s.db, credit.OrgID, credit.CustomerID, calculated); err != nil {
			return nil, err
		}
		credit.CurrentDebt = calculated
		if s.metrics != nil {
			s.metrics.RecordDriftCorrection(ctx)
		}
	}
	return credit, nil
}

func (s *service) derivePaymentPattern(ctx context.Context, credit *domain.CustomerCredit, overdueCount int) (domain.PaymentPattern, error) {
	since := s.clock.Now().Add(-paymentPatternWindow)
	recentPayments, err := s.ledgerRepo.CountPayments(ctx, s.db, credit.OrgID, credit.CustomerID, since)
	if err != nil {
		return "", err
	}

	switch {
	case overdueCount == 0 && recentPayments >= 3:
		return domain.PaymentPatternGood, nil
	case overdueCount > 3 || recentPayments == 0:
		return domain.PaymentPatternPoor, nil
	default:
		return domain.PaymentPatternAverage, nil
	}
}

func (s *service) GetCustomerDebt(ctx context.Context, rawCustomerID string) (domain.DebtSummary, error) {
	orgID, customerID, err := s.resolveCustomer(ctx, rawCustomerID)
	if err != nil {
		return domain.DebtSummary{}, err
	}

	credit, err := s.repo.FindOrCreate(ctx, s.db, orgID, customerID, s.cfg.DefaultCreditLimit)
	if err != nil {
		return domain.DebtSummary{}, err
	}
	if credit, err = s.syncDebt(ctx, credit); err != nil {
		return domain.DebtSummary{}, err
	}

	overdue, err := s.ledgerRepo.Overdue(ctx, s.db, orgID, &customerID, s.clock.Now())
	if err != nil {
		return domain.DebtSummary{}, err
	}
	var overdueAmount int64
	for _, row := range overdue {
		overdueAmount += row.Amount
	}
	if overdueAmount != credit.OverdueAmount {
		if err := s.repo.SetOverdueAmount(ctx, s.db, orgID, customerID, overdueAmount); err != nil {
			return domain.DebtSummary{}, err
		}
		credit.OverdueAmount = overdueAmount
	}

	pattern, err := s.derivePaymentPattern(ctx, credit, len(overdue))
	if err != nil {
		return domain.DebtSummary{}, err
	}
	if pattern != credit.PaymentPattern {
		if err := s.repo.SetPaymentPattern(ctx, s.db, orgID, customerID, pattern); err != nil {
			return domain.DebtSummary{}, err
		}
		credit.PaymentPattern = pattern
	}

	return buildSummary(credit), nil
}

func buildSummary(credit *domain.CustomerCredit) domain.DebtSummary {
	available := credit.CreditLimit - credit.CurrentDebt
	if available < 0 {
		available = 0
	}
	return domain.DebtSummary{
		CustomerID:      credit.CustomerID.String(),
		CurrentDebt:     credit.CurrentDebt,
		CreditLimit:     credit.CreditLimit,
		AvailableCredit: available,
		OverdueAmount:   credit.OverdueAmount,
		PaymentPattern:  credit.PaymentPattern,
		IsBlocked:       credit.IsBlocked,
		BlockReason:     credit.BlockReason,
		LastPaymentDate: credit.LastPaymentDate,
	}
}

// CheckCreditAvailability evaluates whether an order fits within the
// customer's remaining credit and optionally reserves the amount. The
// reservation is a guarded UPDATE: when two requests race for the last slice
// of headroom, exactly one commits and the other is reported as not allowed.
func (s *service) CheckCreditAvailability(ctx context.Context, req domain.CheckCreditRequest) (domain.CreditCheckResult, error) {
	if req.OrderAmount <= 0 {
		return domain.CreditCheckResult{}, domain.ErrInvalidAmount
	}

	orgID, customerID, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.CreditCheckResult{}, err
	}

	var orderID *snowflake.ID
	if req.ReserveCredit {
		parsed, err := snowflake.ParseString(req.OrderID)
		if err != nil {
			return domain.CreditCheckResult{}, domain.ErrInvalidOrderID
		}
		orderID = &parsed
	}

	credit, err := s.repo.FindOrCreate(ctx, s.db, orgID, customerID, s.cfg.DefaultCreditLimit)
	if err != nil {
		return domain.CreditCheckResult{}, err
	}
	if credit, err = s.syncDebt(ctx, credit); err != nil {
		return domain.CreditCheckResult{}, err
	}

	result := domain.EvaluatePolicy(domain.PolicyInput{
		CurrentDebt: credit.CurrentDebt,
		CreditLimit: credit.CreditLimit,
		OrderAmount: req.OrderAmount,
		IsBlocked:   credit.IsBlocked,
		BlockReason: derefString(credit.BlockReason),
	})

	if !result.Allowed || !req.ReserveCredit {
		s.recordCheck(ctx, result)
		return result, nil
	}

	createdBy := strings.TrimSpace(req.UserID)
	if createdBy == "" {
		createdBy = "system"
	}

	reserved := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.ReserveDebt(ctx, tx, orgID, customerID, req.OrderAmount)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		updated, err := s.repo.Find(ctx, tx, orgID, customerID)
		if err != nil {
			return err
		}

		entry := ledgerdomain.DebtTransaction{
			ID:            s.genID.Generate(),
			OrgID:         orgID,
			CustomerID:    customerID,
			Type:          ledgerdomain.TransactionTypeOrder,
			Amount:        req.OrderAmount,
			BalanceBefore: updated.CurrentDebt - req.OrderAmount,
			BalanceAfter:  updated.CurrentDebt,
			OrderID:       orderID,
			CreatedBy:     createdBy,
			CreatedAt:     s.clock.Now(),
		}
		if req.DueDate != nil {
			dueDate := req.DueDate.UTC()
			entry.DueDate = &dueDate
		}
		if err := s.ledgerRepo.Insert(ctx, tx, &entry); err != nil {
			return err
		}

		reserved = true
		return nil
	})
	if err != nil {
		return domain.CreditCheckResult{}, err
	}

	if !reserved {
		// Lost the race or the guard no longer holds. Re-read and report the
		// post-commit position; the caller cannot distinguish this from an
		// ordinary over-limit rejection.
		fresh, err := s.repo.Find(ctx, s.db, orgID, customerID)
		if err != nil {
			return domain.CreditCheckResult{}, err
		}
		result = domain.EvaluatePolicy(domain.PolicyInput{
			CurrentDebt: fresh.CurrentDebt,
			CreditLimit: fresh.CreditLimit,
			OrderAmount: req.OrderAmount,
			IsBlocked:   fresh.IsBlocked,
			BlockReason: derefString(fresh.BlockReason),
		})
		if result.Allowed {
			// Capacity freed between the failed guard and the re-read.
			result.Allowed = false
			result.Message = "credit reservation conflict, please retry"
		}
		if s.metrics != nil {
			s.metrics.RecordReservation(ctx, "conflict")
		}
		s.recordCheck(ctx, result)
		return result, nil
	}

	result.Reserved = true
	s.recordCheck(ctx, result)
	if s.metrics != nil {
		s.metrics.RecordReservation(ctx, "committed")
		s.metrics.RecordLedgerEntry(ctx, string(ledgerdomain.TransactionTypeOrder))
	}

	if err := s.audit.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), strPtr(createdBy),
		"credit.reserved", "customer_credit", strPtr(customerID.String()),
		map[string]any{
			"order_id":     req.OrderID,
			"order_amount": req.OrderAmount,
			"debt_after":   result.CurrentDebt + req.OrderAmount,
		}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}

	s.log.Info("credit reserved",
		zap.String("org_id", orgID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("order_id", req.OrderID),
		zap.Int64("order_amount", req.OrderAmount))

	return result, nil
}

func (s *service) recordCheck(ctx context.Context, result domain.CreditCheckResult) {
	if s.metrics == nil {
		return
	}
	outcome := "allowed"
	if !result.Allowed {
		outcome = "rejected"
	}
	s.metrics.RecordCreditCheck(ctx, outcome)
}

func (s *service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (domain.DebtSummary, error) {
	if req.Amount <= 0 {
		return domain.DebtSummary{}, domain.ErrInvalidAmount
	}

	orgID, customerID, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.DebtSummary{}, err
	}

	if _, err := s.repo.FindOrCreate(ctx, s.db, orgID, customerID, s.cfg.DefaultCreditLimit); err != nil {
		return domain.DebtSummary{}, err
	}

	recordedBy := strings.TrimSpace(req.RecordedBy)
	if recordedBy == "" {
		recordedBy = "system"
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.Find(ctx, tx, orgID, customerID)
		if err != nil {
			return err
		}

		if err := s.repo.ApplyPayment(ctx, tx, orgID, customerID, req.Amount, now); err != nil {
			return err
		}

		after := current.CurrentDebt - req.Amount
		if after < 0 {
			after = 0
		}

		entry := ledgerdomain.DebtTransaction{
			ID:            s.genID.Generate(),
			OrgID:         orgID,
			CustomerID:    customerID,
			Type:          ledgerdomain.TransactionTypePayment,
			Amount:        -req.Amount,
			BalanceBefore: current.CurrentDebt,
			BalanceAfter:  after,
			PaidDate:      &now,
			CreatedBy:     recordedBy,
			CreatedAt:     now,
		}
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			entry.Notes = &notes
		}
		return s.ledgerRepo.Insert(ctx, tx, &entry)
	})
	if err != nil {
		return domain.DebtSummary{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPayment(ctx)
		s.metrics.RecordLedgerEntry(ctx, string(ledgerdomain.TransactionTypePayment))
	}

	if err := s.audit.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), strPtr(recordedBy),
		"debt.payment_recorded", "customer_credit", strPtr(customerID.String()),
		map[string]any{"amount": req.Amount}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}

	s.log.Info("payment recorded",
		zap.String("org_id", orgID.String()),
		zap.String("customer_id", customerID.String()),
		zap.Int64("amount", req.Amount))

	return s.GetCustomerDebt(ctx, req.CustomerID)
}

func (s *service) UpdateCreditLimit(ctx context.Context, req domain.UpdateCreditLimitRequest) (domain.DebtSummary, error) {
	if req.CreditLimit < 0 {
		return domain.DebtSummary{}, domain.ErrInvalidCreditLimit
	}
	if strings.TrimSpace(req.ChangedBy) == "" {
		return domain.DebtSummary{}, domain.ErrInvalidActor
	}

	orgID, customerID, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.DebtSummary{}, err
	}

	credit, err := s.repo.FindOrCreate(ctx, s.db, orgID, customerID, s.cfg.DefaultCreditLimit)
	if err != nil {
		return domain.DebtSummary{}, err
	}
	previousLimit := credit.CreditLimit

	if err := s.repo.SetCreditLimit(ctx, s.db, orgID, customerID, req.CreditLimit); err != nil {
		return domain.DebtSummary{}, err
	}

	if err := s.audit.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), strPtr(req.ChangedBy),
		"credit.limit_updated", "customer_credit", strPtr(customerID.String()),
		map[string]any{
			"previous_limit": previousLimit,
			"new_limit":      req.CreditLimit,
			"reason":         req.Reason,
		}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}

	s.log.Info("credit limit updated",
		zap.String("org_id", orgID.String()),
		zap.String("customer_id", customerID.String()),
		zap.Int64("previous_limit", previousLimit),
		zap.Int64("new_limit", req.CreditLimit))

	return s.GetCustomerDebt(ctx, req.CustomerID)
}

func (s *service) BlockCustomer(ctx context.Context, req domain.BlockCustomerRequest) (domain.DebtSummary, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.DebtSummary{}, domain.ErrInvalidBlockReason
	}
	if strings.TrimSpace(req.BlockedBy) == "" {
		return domain.DebtSummary{}, domain.ErrInvalidActor
	}

	orgID, customerID, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.DebtSummary{}, err
	}

	if _, err := s.repo.FindOrCreate(ctx, s.db, orgID, customerID, s.cfg.DefaultCreditLimit); err != nil {
		return domain.DebtSummary{}, err
	}
	if err := s.repo.SetBlocked(ctx, s.db, orgID, customerID, true, &reason); err != nil {
		return domain.DebtSummary{}, err
	}

	if err := s.audit.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), strPtr(req.BlockedBy),
		"credit.blocked", "customer_credit", strPtr(customerID.String()),
		map[string]any{"reason": reason}); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}

	return s.GetCustomerDebt(ctx, req.CustomerID)
}

func (s *service) UnblockCustomer(ctx context.Context, req domain.UnblockCustomerRequest) (domain.DebtSummary, error) {
	if strings.TrimSpace(req.UnblockedBy) == "" {
		return domain.DebtSummary{}, domain.ErrInvalidActor
	}

	orgID, customerID, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.DebtSummary{}, err
	}

	credit, err := s.repo.Find(ctx, s.db, orgID, customerID)
	if err != nil {
		return domain.DebtSummary{}, err
	}
	if !credit.IsBlocked {
		return buildSummary(credit), nil
	}

	if err := s.repo.SetBlocked(ctx, s.db, orgID, customerID, false, nil); err != nil {
		return domain.DebtSummary{}, err
	}

	if err := s.audit.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), strPtr(req.UnblockedBy),
		"credit.unblocked", "customer_credit", strPtr(customerID.String()), nil); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}

	return s.GetCustomerDebt(ctx, req.CustomerID)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
