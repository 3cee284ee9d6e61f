package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/debtor/internal/alert/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type repo struct{}

// Provide wires the alert repository for fx.
var Provide = fx.Provide(NewRepository)

func NewRepository() domain.Repository {
	return &repo{}
}

func (r *repo) FindOpenByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*domain.DebtAlert, error) {
	var alert domain.DebtAlert
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ? AND status = ?", orgID, customerID, domain.AlertStatusOpen).
		First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, err
	}
	return &alert, nil
}

func (r *repo) ListOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.DebtAlert, error) {
	var alerts []*domain.DebtAlert
	err := db.WithContext(ctx).
		Where("org_id = ? AND status = ?", orgID, domain.AlertStatusOpen).
		Order("oldest_due_date ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repo) ListAllOpen(ctx context.Context, db *gorm.DB, limit int) ([]*domain.DebtAlert, error) {
	var alerts []*domain.DebtAlert
	err := db.WithContext(ctx).
		Where("status = ?", domain.AlertStatusOpen).
		Order("last_evaluated_at ASC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, alert *domain.DebtAlert) error {
	return db.WithContext(ctx).Create(alert).Error
}

func (r *repo) Refresh(ctx context.Context, db *gorm.DB, id snowflake.ID, overdueAmount int64, oldestDueDate, evaluatedAt time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE debt_alerts
		SET overdue_amount = ?, oldest_due_date = ?, last_evaluated_at = ?
		WHERE id = ? AND status = ?
	`, overdueAmount, oldestDueDate, evaluatedAt, id, domain.AlertStatusOpen).Error
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, resolvedAt time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE debt_alerts
		SET status = ?, resolved_at = ?, last_evaluated_at = ?
		WHERE id = ? AND status = ?
	`, domain.AlertStatusResolved, resolvedAt, resolvedAt, id, domain.AlertStatusOpen).Error
}
