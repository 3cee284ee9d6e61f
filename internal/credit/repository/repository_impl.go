package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/debtor/internal/credit/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type repo struct {
	genID *snowflake.Node
}

// Provide wires the credit repository for fx.
var Provide = fx.Provide(NewRepository)

func NewRepository(genID *snowflake.Node) domain.Repository {
	return &repo{genID: genID}
}

// FindOrCreate lazily provisions the credit record for a customer the first
// time it is touched. Concurrent first touches race on the unique index and
// collapse to the same row.
func (r *repo) FindOrCreate(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, defaultLimit int64) (*domain.CustomerCredit, error) {
	credit, err := r.Find(ctx, db, orgID, customerID)
	if err == nil {
		return credit, nil
	}
	if !errors.Is(err, domain.ErrCreditNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	insert := db.WithContext(ctx).Exec(`
		INSERT INTO customer_credits
			(id, org_id, customer_id, credit_limit, current_debt, overdue_amount, payment_pattern, is_blocked, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?, ?, ?)
		ON CONFLICT (org_id, customer_id) DO NOTHING
	`, r.genID.Generate(), orgID, customerID, defaultLimit, domain.PaymentPatternAverage, false, now, now)
	if insert.Error != nil {
		return nil, insert.Error
	}

	return r.Find(ctx, db, orgID, customerID)
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*domain.CustomerCredit, error) {
	var credit domain.CustomerCredit
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ?", orgID, customerID).
		First(&credit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCreditNotFound
		}
		return nil, err
	}
	return &credit, nil
}

// ReserveDebt is the write side of the credit check. The guard runs inside
// the UPDATE itself so two reservations can never both observe the same
// headroom: whichever statement runs second sees the incremented debt and
// matches zero rows.
func (r *repo) ReserveDebt(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, amount int64) (bool, error) {
	result := db.WithContext(ctx).Exec(`
		UPDATE customer_credits
		SET current_debt = current_debt + ?, updated_at = ?
		WHERE org_id = ? AND customer_id = ?
			AND is_blocked = ?
			AND current_debt + ? <= credit_limit
	`, amount, time.Now().UTC(), orgID, customerID, false, amount)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApplyPayment decrements the cached debt, clamping at zero so an
// overpayment never produces a negative balance.
func (r *repo) ApplyPayment(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, amount int64, paidAt time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE customer_credits
		SET current_debt = CASE WHEN current_debt - ? < 0 THEN 0 ELSE current_debt - ? END,
			last_payment_date = ?,
			updated_at = ?
		WHERE org_id = ? AND customer_id = ?
	`, amount, amount, paidAt, paidAt, orgID, customerID).Error
}

func (r *repo) SetDebt(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, debt int64) error {
	return db.WithContext(ctx).Exec(`
		UPDATE customer_credits
		SET current_debt = ?, updated_at = ?
		WHERE org_id = ? AND customer_id = ?
	`, debt, time.Now().UTC(), orgID, customerID).Error
}

func (r *repo) SetOverdueAmount(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, amount int64) error {
	return db.WithContext(ctx).Exec(`
		UPDATE customer_credits
		SET overdue_amount = ?, updated_at = ?
		WHERE org_id = ? AND customer_id = ?
	`, amount, time.Now().UTC(), orgID, customerID).Error
}

func (r *repo) SetPaymentPattern(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, pattern domain.PaymentPattern) error {
	return db.WithContext(ctx).Exec(`
		UPDATE customer_credits
		SET payment_pattern = ?, updated_at = ?
		WHERE org_id = ? AND customer_id = ?
	`, pattern, time.Now().UTC(), orgID, customerID).Error
}

func (r *repo) SetCreditLimit(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, limit int64) error {
	return db.WithContext(ctx).Exec(`
		UPDATE customer_credits
		SET credit_limit = ?, updated_at = ?
		WHERE org_id = ? AND customer_id = ?
	`, limit, time.Now().UTC(), orgID, customerID).Error
}

func (r *repo) SetBlocked(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, blocked bool, reason *string) error {
	return db.WithContext(ctx).Exec(`
		UPDATE customer_credits
		SET is_blocked = ?, block_reason = ?, updated_at = ?
		WHERE org_id = ? AND customer_id = ?
	`, blocked, reason, time.Now().UTC(), orgID, customerID).Error
}
