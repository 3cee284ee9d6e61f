package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/debtor/internal/audit/domain"
	auditrepository "github.com/smallbiznis/debtor/internal/audit/repository"
	auditservice "github.com/smallbiznis/debtor/internal/audit/service"
	"github.com/smallbiznis/debtor/internal/clock"
	"github.com/smallbiznis/debtor/internal/config"
	"github.com/smallbiznis/debtor/internal/credit/domain"
	creditrepository "github.com/smallbiznis/debtor/internal/credit/repository"
	ledgerdomain "github.com/smallbiznis/debtor/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/debtor/internal/ledger/repository"
	"github.com/smallbiznis/debtor/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc        domain.Service
	db         *gorm.DB
	clock      *clock.FakeClock
	ledgerRepo ledgerdomain.Repository
	creditRepo domain.Repository
	genID      *snowflake.Node
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&domain.CustomerCredit{},
		&ledgerdomain.DebtTransaction{},
		&auditdomain.AuditLog{},
	))

	genID, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	ledgerRepo := ledgerrepository.NewRepository()
	creditRepo := creditrepository.NewRepository(genID)
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: genID,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(Params{
		Cfg:        config.Config{DefaultCreditLimit: 50_000},
		DB:         db,
		Log:        log,
		GenID:      genID,
		Clock:      fakeClock,
		Repo:       creditRepo,
		LedgerRepo: ledgerRepo,
		Audit:      auditSvc,
	})

	return &fixture{
		svc:        svc,
		db:         db,
		clock:      fakeClock,
		ledgerRepo: ledgerRepo,
		creditRepo: creditRepo,
		genID:      genID,
	}
}

func orgContext(orgID int64) context.Context {
	return orgcontext.WithOrgID(context.Background(), orgID)
}

func TestGetCustomerDebtProvisionsLazily(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)

	assert.Equal(t, "1001", summary.CustomerID)
	assert.Equal(t, int64(0), summary.CurrentDebt)
	assert.Equal(t, int64(50_000), summary.CreditLimit)
	assert.Equal(t, int64(50_000), summary.AvailableCredit)
	assert.Equal(t, domain.PaymentPatternPoor, summary.PaymentPattern)
	assert.False(t, summary.IsBlocked)
}

func TestPaymentPatternPoorWithoutRecentPayments(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	// An order settled 200 days ago: no debt, no overdue, and no payments
	// inside the six month window.
	orderedAt := f.clock.Now().Add(-200 * 24 * time.Hour)
	dueDate := orderedAt.Add(14 * 24 * time.Hour)
	paidDate := orderedAt.Add(7 * 24 * time.Hour)
	require.NoError(t, f.ledgerRepo.Insert(ctx, f.db, &ledgerdomain.DebtTransaction{
		ID:           f.genID.Generate(),
		OrgID:        10,
		CustomerID:   1001,
		Type:         ledgerdomain.TransactionTypeOrder,
		Amount:       15_000,
		BalanceAfter: 15_000,
		DueDate:      &dueDate,
		PaidDate:     &paidDate,
		CreatedBy:    "backfill",
		CreatedAt:    orderedAt,
	}))
	require.NoError(t, f.ledgerRepo.Insert(ctx, f.db, &ledgerdomain.DebtTransaction{
		ID:         f.genID.Generate(),
		OrgID:      10,
		CustomerID: 1001,
		Type:       ledgerdomain.TransactionTypePayment,
		Amount:     -15_000,
		PaidDate:   &paidDate,
		CreatedBy:  "backfill",
		CreatedAt:  paidDate,
	}))

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.CurrentDebt)
	assert.Equal(t, domain.PaymentPatternPoor, summary.PaymentPattern)
}

func TestPaymentPatternGoodWithRegularPayments(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	for i := 0; i < 3; i++ {
		paidAt := f.clock.Now().Add(-time.Duration(30*(i+1)) * 24 * time.Hour)
		require.NoError(t, f.ledgerRepo.Insert(ctx, f.db, &ledgerdomain.DebtTransaction{
			ID:         f.genID.Generate(),
			OrgID:      10,
			CustomerID: 1001,
			Type:       ledgerdomain.TransactionTypePayment,
			Amount:     -5_000,
			PaidDate:   &paidAt,
			CreatedBy:  "backfill",
			CreatedAt:  paidAt,
		}))
	}

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPatternGood, summary.PaymentPattern)
}

func TestGetCustomerDebtMissingOrg(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.GetCustomerDebt(context.Background(), "1001")
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestGetCustomerDebtSyncsDriftFromLedger(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	// Provision the cached record, then append a ledger row behind its back.
	_, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)

	require.NoError(t, f.ledgerRepo.Insert(ctx, f.db, &ledgerdomain.DebtTransaction{
		ID:           f.genID.Generate(),
		OrgID:        10,
		CustomerID:   1001,
		Type:         ledgerdomain.TransactionTypeOrder,
		Amount:       12_000,
		BalanceAfter: 12_000,
		CreatedBy:    "backfill",
		CreatedAt:    f.clock.Now(),
	}))

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(12_000), summary.CurrentDebt)
	assert.Equal(t, int64(38_000), summary.AvailableCredit)
}

func TestGetCustomerDebtClampsNegativeLedgerSum(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)

	now := f.clock.Now()
	require.NoError(t, f.ledgerRepo.Insert(ctx, f.db, &ledgerdomain.DebtTransaction{
		ID:         f.genID.Generate(),
		OrgID:      10,
		CustomerID: 1001,
		Type:       ledgerdomain.TransactionTypePayment,
		Amount:     -20_000,
		PaidDate:   &now,
		CreatedBy:  "backfill",
		CreatedAt:  now,
	}))

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.CurrentDebt)
}

func TestCheckCreditReadOnlyDoesNotReserve(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	result, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:  "1001",
		OrderAmount: 30_000,
	})
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.False(t, result.Reserved)

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.CurrentDebt)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.DebtTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestCheckCreditInvalidAmount(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:  "1001",
		OrderAmount: 0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:  "1001",
		OrderAmount: -5_000,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCheckCreditReserveRequiresOrderID(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:    "1001",
		OrderAmount:   10_000,
		ReserveCredit: true,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrderID)
}

func TestCheckCreditReserveAppendsLedgerEntry(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	result, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:    "1001",
		OrderAmount:   30_000,
		ReserveCredit: true,
		OrderID:       "555",
		UserID:        "user-1",
	})
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.True(t, result.Reserved)
	assert.Equal(t, int64(0), result.CurrentDebt)

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), summary.CurrentDebt)
	assert.Equal(t, int64(20_000), summary.AvailableCredit)

	var entries []ledgerdomain.DebtTransaction
	require.NoError(t, f.db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, ledgerdomain.TransactionTypeOrder, entries[0].Type)
	assert.Equal(t, int64(30_000), entries[0].Amount)
	assert.Equal(t, int64(0), entries[0].BalanceBefore)
	assert.Equal(t, int64(30_000), entries[0].BalanceAfter)
	require.NotNil(t, entries[0].OrderID)
	assert.Equal(t, snowflake.ID(555), *entries[0].OrderID)
	assert.Equal(t, "user-1", entries[0].CreatedBy)

	var auditCount int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", "credit.reserved").
		Count(&auditCount).Error)
	assert.Equal(t, int64(1), auditCount)
}

func TestCheckCreditOverLimitReturnsShortfall(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:    "1001",
		OrderAmount:   40_000,
		ReserveCredit: true,
		OrderID:       "1",
	})
	require.NoError(t, err)

	result, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:  "1001",
		OrderAmount: 20_000,
	})
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	require.NotNil(t, result.Shortfall)
	assert.Equal(t, int64(10_000), *result.Shortfall)
	assert.Contains(t, result.Message, "credit limit exceeded")
}

func TestCheckCreditBlockedCustomer(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.BlockCustomer(ctx, domain.BlockCustomerRequest{
		CustomerID: "1001",
		Reason:     "repeated late payments",
		BlockedBy:  "admin-1",
	})
	require.NoError(t, err)

	result, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:    "1001",
		OrderAmount:   1_000,
		ReserveCredit: true,
		OrderID:       "2",
	})
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	assert.False(t, result.Reserved)
	assert.Contains(t, result.Message, "blocked")
	assert.Contains(t, result.Message, "repeated late payments")

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.CurrentDebt)
}

func TestConcurrentReservationsNeverExceedLimit(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.UpdateCreditLimit(ctx, domain.UpdateCreditLimitRequest{
		CustomerID:  "1001",
		CreditLimit: 100_000,
		ChangedBy:   "admin-1",
	})
	require.NoError(t, err)

	const workers = 5
	const orderAmount = 30_000

	var wg sync.WaitGroup
	results := make([]domain.CreditCheckResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
				CustomerID:    "1001",
				OrderAmount:   orderAmount,
				ReserveCredit: true,
				OrderID:       strconv.Itoa(i + 1),
				UserID:        "user-1",
			})
		}(i)
	}
	wg.Wait()

	reserved := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].Reserved {
			assert.True(t, results[i].Allowed)
			reserved++
		} else {
			assert.False(t, results[i].Allowed)
		}
	}
	assert.Equal(t, 3, reserved)

	summary, err := f.svc.GetCustomerDebt(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(90_000), summary.CurrentDebt)

	var entryCount int64
	require.NoError(t, f.db.Model(&ledgerdomain.DebtTransaction{}).
		Where("transaction_type = ?", ledgerdomain.TransactionTypeOrder).
		Count(&entryCount).Error)
	assert.Equal(t, int64(3), entryCount)
}

func TestRecordPaymentReducesDebt(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:    "1001",
		OrderAmount:   30_000,
		ReserveCredit: true,
		OrderID:       "1",
	})
	require.NoError(t, err)

	summary, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		CustomerID: "1001",
		Amount:     10_000,
		RecordedBy: "cashier-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(20_000), summary.CurrentDebt)
	require.NotNil(t, summary.LastPaymentDate)
	assert.WithinDuration(t, f.clock.Now(), *summary.LastPaymentDate, time.Second)

	var entries []ledgerdomain.DebtTransaction
	require.NoError(t, f.db.
		Where("transaction_type = ?", ledgerdomain.TransactionTypePayment).
		Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-10_000), entries[0].Amount)
	assert.Equal(t, int64(30_000), entries[0].BalanceBefore)
	assert.Equal(t, int64(20_000), entries[0].BalanceAfter)
	require.NotNil(t, entries[0].PaidDate)
}

func TestRecordPaymentOverpaymentClampsAtZero(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.CheckCreditAvailability(ctx, domain.CheckCreditRequest{
		CustomerID:    "1001",
		OrderAmount:   10_000,
		ReserveCredit: true,
		OrderID:       "1",
	})
	require.NoError(t, err)

	summary, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		CustomerID: "1001",
		Amount:     50_000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.CurrentDebt)
}

func TestRecordPaymentInvalidAmount(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.RecordPayment(ctx, domain.RecordPaymentRequest{
		CustomerID: "1001",
		Amount:     0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestUpdateCreditLimitAudited(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	summary, err := f.svc.UpdateCreditLimit(ctx, domain.UpdateCreditLimitRequest{
		CustomerID:  "1001",
		CreditLimit: 200_000,
		Reason:      "annual review",
		ChangedBy:   "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), summary.CreditLimit)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.
		Where("action = ?", "credit.limit_updated").
		Find(&logs).Error)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, "admin-1", *logs[0].ActorID)
}

func TestUpdateCreditLimitRejectsNegative(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	_, err := f.svc.UpdateCreditLimit(ctx, domain.UpdateCreditLimitRequest{
		CustomerID:  "1001",
		CreditLimit: -1,
		ChangedBy:   "admin-1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCreditLimit)
}

func TestBlockAndUnblockCustomer(t *testing.T) {
	f := setupFixture(t)
	ctx := orgContext(10)

	summary, err := f.svc.BlockCustomer(ctx, domain.BlockCustomerRequest{
		CustomerID: "1001",
		Reason:     "fraud review",
		BlockedBy:  "admin-1",
	})
	require.NoError(t, err)
	assert.True(t, summary.IsBlocked)
	require.NotNil(t, summary.BlockReason)
	assert.Equal(t, "fraud review", *summary.BlockReason)

	summary, err = f.svc.UnblockCustomer(ctx, domain.UnblockCustomerRequest{
		CustomerID:  "1001",
		UnblockedBy: "admin-1",
	})
	require.NoError(t, err)
	assert.False(t, summary.IsBlocked)
	assert.Nil(t, summary.BlockReason)
}

func TestTenantIsolation(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.CheckCreditAvailability(orgContext(10), domain.CheckCreditRequest{
		CustomerID:    "1001",
		OrderAmount:   30_000,
		ReserveCredit: true,
		OrderID:       "1",
	})
	require.NoError(t, err)

	// Same customer id under a different org starts clean.
	summary, err := f.svc.GetCustomerDebt(orgContext(20), "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.CurrentDebt)
}
