package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/debtor/internal/ledger/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type repo struct{}

// Provide wires the ledger repository for fx.
var Provide = fx.Provide(NewRepository)

func NewRepository() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, transaction *domain.DebtTransaction) error {
	return db.WithContext(ctx).Create(transaction).Error
}

func (r *repo) SumForCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(amount), 0)
		FROM debt_transactions
		WHERE org_id = ? AND customer_id = ?
	`, orgID, customerID).Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, filter domain.HistoryFilter, cursor *domain.Cursor, limit int) ([]*domain.DebtTransaction, error) {
	query := db.WithContext(ctx).
		Model(&domain.DebtTransaction{}).
		Where("org_id = ? AND customer_id = ?", orgID, customerID)

	if filter.Type != "" {
		query = query.Where("transaction_type = ?", filter.Type)
	}
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}
	if cursor != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var transactions []*domain.DebtTransaction
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repo) Overdue(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerID *snowflake.ID, asOf time.Time) ([]*domain.DebtTransaction, error) {
	query := db.WithContext(ctx).
		Model(&domain.DebtTransaction{}).
		Where("org_id = ?", orgID).
		Where("transaction_type = ?", domain.TransactionTypeOrder).
		Where("due_date IS NOT NULL AND due_date < ?", asOf).
		Where("paid_date IS NULL")

	if customerID != nil {
		query = query.Where("customer_id = ?", *customerID)
	}

	var transactions []*domain.DebtTransaction
	if err := query.Order("due_date ASC").Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repo) CountPayments(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.DebtTransaction{}).
		Where("org_id = ? AND customer_id = ?", orgID, customerID).
		Where("transaction_type = ?", domain.TransactionTypePayment).
		Where("created_at >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) OverdueCustomers(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]domain.OverdueCustomer, error) {
	// Aggregated in Go rather than SQL: the sqlite driver returns MIN(due_date)
	// as a string, which does not scan into time.Time.
	var transactions []*domain.DebtTransaction
	err := db.WithContext(ctx).
		Where("transaction_type = ?", domain.TransactionTypeOrder).
		Where("due_date IS NOT NULL AND due_date < ?", asOf).
		Where("paid_date IS NULL").
		Order("due_date ASC").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}

	type customerKey struct {
		orgID      snowflake.ID
		customerID snowflake.ID
	}
	index := make(map[customerKey]int)
	rows := make([]domain.OverdueCustomer, 0, limit)
	for _, tx := range transactions {
		key := customerKey{tx.OrgID, tx.CustomerID}
		i, ok := index[key]
		if !ok {
			if len(rows) >= limit {
				continue
			}
			i = len(rows)
			index[key] = i
			// Rows are ordered by due_date, so the first row per customer
			// carries the oldest due date.
			rows = append(rows, domain.OverdueCustomer{
				OrgID:         tx.OrgID,
				CustomerID:    tx.CustomerID,
				OldestDueDate: *tx.DueDate,
			})
		}
		rows[i].OverdueAmount += tx.Amount
	}
	return rows, nil
}
