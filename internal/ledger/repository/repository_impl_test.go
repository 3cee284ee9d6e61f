package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/debtor/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (domain.Repository, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&domain.DebtTransaction{}))

	genID, err := snowflake.NewNode(5)
	require.NoError(t, err)

	return NewRepository(), db, genID
}

func insertOrder(t *testing.T, repo domain.Repository, db *gorm.DB, genID *snowflake.Node, orgID, customerID snowflake.ID, amount int64, dueDate time.Time, paidDate *time.Time) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), db, &domain.DebtTransaction{
		ID:         genID.Generate(),
		OrgID:      orgID,
		CustomerID: customerID,
		Type:       domain.TransactionTypeOrder,
		Amount:     amount,
		DueDate:    &dueDate,
		PaidDate:   paidDate,
		CreatedBy:  "system",
		CreatedAt:  dueDate.Add(-14 * 24 * time.Hour),
	}))
}

func TestOverdueCustomersAggregates(t *testing.T) {
	repo, db, genID := setupRepo(t)
	ctx := context.Background()
	asOf := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	oldest := asOf.Add(-20 * 24 * time.Hour)
	insertOrder(t, repo, db, genID, 10, 1001, 12_000, oldest, nil)
	insertOrder(t, repo, db, genID, 10, 1001, 8_000, asOf.Add(-5*24*time.Hour), nil)
	insertOrder(t, repo, db, genID, 10, 1002, 3_000, asOf.Add(-2*24*time.Hour), nil)

	// Paid and not-yet-due orders stay out of the aggregate.
	paid := asOf.Add(-1 * 24 * time.Hour)
	insertOrder(t, repo, db, genID, 10, 1001, 99_000, asOf.Add(-30*24*time.Hour), &paid)
	insertOrder(t, repo, db, genID, 10, 1003, 7_000, asOf.Add(24*time.Hour), nil)

	rows, err := repo.OverdueCustomers(ctx, db, asOf, 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, snowflake.ID(1001), rows[0].CustomerID)
	assert.Equal(t, int64(20_000), rows[0].OverdueAmount)
	assert.WithinDuration(t, oldest, rows[0].OldestDueDate, time.Second)

	assert.Equal(t, snowflake.ID(1002), rows[1].CustomerID)
	assert.Equal(t, int64(3_000), rows[1].OverdueAmount)
}

func TestOverdueCustomersRespectsLimit(t *testing.T) {
	repo, db, genID := setupRepo(t)
	ctx := context.Background()
	asOf := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	insertOrder(t, repo, db, genID, 10, 1001, 1_000, asOf.Add(-3*24*time.Hour), nil)
	insertOrder(t, repo, db, genID, 10, 1002, 2_000, asOf.Add(-2*24*time.Hour), nil)
	insertOrder(t, repo, db, genID, 10, 1003, 3_000, asOf.Add(-1*24*time.Hour), nil)

	rows, err := repo.OverdueCustomers(ctx, db, asOf, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Batch keeps the customers with the oldest due dates.
	assert.Equal(t, snowflake.ID(1001), rows[0].CustomerID)
	assert.Equal(t, snowflake.ID(1002), rows[1].CustomerID)
}
