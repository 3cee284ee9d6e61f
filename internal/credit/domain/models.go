package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentPattern classifies how reliably a customer settles debt, derived
// from recent ledger history rather than stored judgements.
type PaymentPattern string

const (
	PaymentPatternGood    PaymentPattern = "good"
	PaymentPatternAverage PaymentPattern = "average"
	PaymentPatternPoor    PaymentPattern = "poor"
)

// CustomerCredit caches the debt position of one customer inside one
// organization. The debt ledger is the source of truth; current_debt is a
// derived value resynced whenever drift is observed.
type CustomerCredit struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID   `gorm:"not null;uniqueIndex:idx_customer_credits_org_customer,priority:1" json:"organization_id"`
	CustomerID      snowflake.ID   `gorm:"not null;uniqueIndex:idx_customer_credits_org_customer,priority:2" json:"customer_id"`
	CreditLimit     int64          `gorm:"not null;default:0" json:"credit_limit"`
	CurrentDebt     int64          `gorm:"not null;default:0" json:"current_debt"`
	OverdueAmount   int64          `gorm:"not null;default:0" json:"overdue_amount"`
	PaymentPattern  PaymentPattern `gorm:"type:text;not null;default:average" json:"payment_pattern"`
	IsBlocked       bool           `gorm:"not null;default:false" json:"is_blocked"`
	BlockReason     *string        `gorm:"type:text" json:"block_reason,omitempty"`
	LastPaymentDate *time.Time     `json:"last_payment_date,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CustomerCredit) TableName() string { return "customer_credits" }

// DebtSummary is the full debt position returned to callers.
type DebtSummary struct {
	CustomerID      string         `json:"customer_id"`
	CurrentDebt     int64          `json:"current_debt"`
	CreditLimit     int64          `json:"credit_limit"`
	AvailableCredit int64          `json:"available_credit"`
	OverdueAmount   int64          `json:"overdue_amount"`
	PaymentPattern  PaymentPattern `json:"payment_pattern"`
	IsBlocked       bool           `json:"is_blocked"`
	BlockReason     *string        `json:"block_reason,omitempty"`
	LastPaymentDate *time.Time     `json:"last_payment_date,omitempty"`
}

// CreditCheckResult is the outcome of a credit availability check. Shortfall
// is set only when the order would push debt past the limit.
type CreditCheckResult struct {
	Allowed     bool   `json:"allowed"`
	CurrentDebt int64  `json:"current_debt"`
	CreditLimit int64  `json:"credit_limit"`
	OrderAmount int64  `json:"order_amount"`
	Shortfall   *int64 `json:"shortfall,omitempty"`
	Reserved    bool   `json:"reserved"`
	Message     string `json:"message,omitempty"`
}

type CheckCreditRequest struct {
	CustomerID    string
	OrderAmount   int64
	ReserveCredit bool
	OrderID       string
	DueDate       *time.Time
	UserID        string
}

type RecordPaymentRequest struct {
	CustomerID string
	Amount     int64
	Notes      string
	RecordedBy string
}

type UpdateCreditLimitRequest struct {
	CustomerID  string
	CreditLimit int64
	Reason      string
	ChangedBy   string
}

type BlockCustomerRequest struct {
	CustomerID string
	Reason     string
	BlockedBy  string
}

type UnblockCustomerRequest struct {
	CustomerID  string
	UnblockedBy string
}

// Repository is the data access contract for customer credit records. All
// methods take the connection so callers can pass an open transaction.
type Repository interface {
	FindOrCreate(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, defaultLimit int64) (*CustomerCredit, error)
	Find(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*CustomerCredit, error)

	// ReserveDebt atomically increments current_debt when the customer is
	// not blocked and the new debt stays within the limit. Returns false
	// when the guard fails, which is indistinguishable from losing a race.
	ReserveDebt(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, amount int64) (bool, error)

	ApplyPayment(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, amount int64, paidAt time.Time) error
	SetDebt(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, debt int64) error
	SetOverdueAmount(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, amount int64) error
	SetPaymentPattern(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, pattern PaymentPattern) error
	SetCreditLimit(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, limit int64) error
	SetBlocked(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, blocked bool, reason *string) error
}

// Service owns the customer credit lifecycle: debt summaries, credit checks
// with optional reservation, payments and administrative changes.
type Service interface {
	GetCustomerDebt(ctx context.Context, customerID string) (DebtSummary, error)
	CheckCreditAvailability(ctx context.Context, req CheckCreditRequest) (CreditCheckResult, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (DebtSummary, error)
	UpdateCreditLimit(ctx context.Context, req UpdateCreditLimitRequest) (DebtSummary, error)
	BlockCustomer(ctx context.Context, req BlockCustomerRequest) (DebtSummary, error)
	UnblockCustomer(ctx context.Context, req UnblockCustomerRequest) (DebtSummary, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidOrderID      = errors.New("invalid_order_id")
	ErrInvalidCreditLimit  = errors.New("invalid_credit_limit")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidBlockReason  = errors.New("invalid_block_reason")
	ErrCreditNotFound      = errors.New("customer_credit_not_found")
)
