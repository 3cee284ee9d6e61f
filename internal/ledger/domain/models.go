package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/debtor/pkg/db/pagination"
	"gorm.io/gorm"
)

// TransactionType is the business reason for a debt movement. The set is
// closed: unknown types are rejected at construction.
type TransactionType string

const (
	TransactionTypeOrder      TransactionType = "ORDER"
	TransactionTypePayment    TransactionType = "PAYMENT"
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
)

// ParseTransactionType validates a raw transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.ToUpper(strings.TrimSpace(raw))) {
	case TransactionTypeOrder:
		return TransactionTypeOrder, nil
	case TransactionTypePayment:
		return TransactionTypePayment, nil
	case TransactionTypeAdjustment:
		return TransactionTypeAdjustment, nil
	default:
		return "", ErrInvalidTransactionType
	}
}

// DebtTransaction is an immutable row in the per-customer debt ledger.
// Orders and positive adjustments increase debt, payments are stored with a
// negative amount. Rows are never updated or deleted.
type DebtTransaction struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID    `gorm:"not null;index:idx_debt_transactions_org_customer,priority:1" json:"organization_id"`
	CustomerID    snowflake.ID    `gorm:"not null;index:idx_debt_transactions_org_customer,priority:2" json:"customer_id"`
	Type          TransactionType `gorm:"column:transaction_type;type:text;not null" json:"transaction_type"`
	Amount        int64           `gorm:"not null" json:"amount"`
	BalanceBefore int64           `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64           `gorm:"not null" json:"balance_after"`
	OrderID       *snowflake.ID   `gorm:"index" json:"order_id,omitempty"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	PaidDate      *time.Time      `json:"paid_date,omitempty"`
	Notes         *string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy     string          `gorm:"type:text;not null" json:"created_by"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (DebtTransaction) TableName() string { return "debt_transactions" }

// HistoryFilter narrows ledger history queries.
type HistoryFilter struct {
	Type      TransactionType
	StartDate *time.Time
	EndDate   *time.Time
}

// Repository is the data access contract for the debt ledger. Insert is the
// only mutation; methods take the connection so callers can pass an open
// transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, transaction *DebtTransaction) error
	SumForCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (int64, error)
	List(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, filter HistoryFilter, cursor *Cursor, limit int) ([]*DebtTransaction, error)
	Overdue(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerID *snowflake.ID, asOf time.Time) ([]*DebtTransaction, error)
	CountPayments(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, since time.Time) (int64, error)
	OverdueCustomers(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]OverdueCustomer, error)
}

// Cursor positions a history listing.
type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// OverdueCustomer aggregates the overdue position of one customer.
type OverdueCustomer struct {
	OrgID         snowflake.ID
	CustomerID    snowflake.ID
	OverdueAmount int64
	OldestDueDate time.Time
}

type AppendTransactionRequest struct {
	CustomerID string
	Type       string
	Amount     int64
	OrderID    string
	DueDate    *time.Time
	Notes      string
	CreatedBy  string
}

type HistoryRequest struct {
	CustomerID string
	PageToken  string
	PageSize   int32
	Type       string
	StartDate  *time.Time
	EndDate    *time.Time
}

type HistoryResponse struct {
	pagination.PageInfo
	Transactions []DebtTransaction `json:"transactions"`
}

// Service exposes read paths over the ledger plus manual adjustments.
// Reservation and payment appends happen through the credit service so they
// commit atomically with the balance update.
type Service interface {
	Append(ctx context.Context, req AppendTransactionRequest) (DebtTransaction, error)
	SumForCustomer(ctx context.Context, customerID string) (int64, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidCustomer        = errors.New("invalid_customer")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")

	// ErrUnsupportedTransactionType rejects manual PAYMENT entries, which
	// must go through the payment endpoint.
	ErrUnsupportedTransactionType = errors.New("unsupported_transaction_type")

	ErrInvalidOrderID   = errors.New("invalid_order_id")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCreatedBy = errors.New("invalid_created_by")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
