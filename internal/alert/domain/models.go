package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

// DebtAlert tracks a customer with overdue debt. At most one alert per
// customer is open at a time; repeated scans refresh it instead of piling up
// duplicates, and it resolves once the overdue position clears.
type DebtAlert struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID `gorm:"not null;index:idx_debt_alerts_org_status,priority:1" json:"organization_id"`
	CustomerID      snowflake.ID `gorm:"not null;index" json:"customer_id"`
	OverdueAmount   int64        `gorm:"not null" json:"overdue_amount"`
	OldestDueDate   time.Time    `gorm:"not null" json:"oldest_due_date"`
	Status          AlertStatus  `gorm:"type:text;not null;index:idx_debt_alerts_org_status,priority:2" json:"status"`
	FirstDetectedAt time.Time    `gorm:"not null" json:"first_detected_at"`
	LastEvaluatedAt time.Time    `gorm:"not null" json:"last_evaluated_at"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
}

// TableName sets the database table name.
func (DebtAlert) TableName() string { return "debt_alerts" }

type Repository interface {
	FindOpenByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*DebtAlert, error)
	ListOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*DebtAlert, error)
	ListAllOpen(ctx context.Context, db *gorm.DB, limit int) ([]*DebtAlert, error)
	Insert(ctx context.Context, db *gorm.DB, alert *DebtAlert) error
	Refresh(ctx context.Context, db *gorm.DB, id snowflake.ID, overdueAmount int64, oldestDueDate, evaluatedAt time.Time) error
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, resolvedAt time.Time) error
}

// ScanReport summarizes one overdue scan pass.
type ScanReport struct {
	Scanned   int `json:"scanned"`
	Opened    int `json:"opened"`
	Refreshed int `json:"refreshed"`
	Resolved  int `json:"resolved"`
}

// Service detects overdue customers and maintains their alerts. ScanOverdue
// is driven by the background scheduler; ListOpen backs the alerts API.
type Service interface {
	ScanOverdue(ctx context.Context) (ScanReport, error)
	ListOpen(ctx context.Context) ([]DebtAlert, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrAlertNotFound       = errors.New("debt_alert_not_found")
)
