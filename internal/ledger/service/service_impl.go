package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/debtor/internal/clock"
	"github.com/smallbiznis/debtor/internal/ledger/domain"
	"github.com/smallbiznis/debtor/internal/orgcontext"
	"github.com/smallbiznis/debtor/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Append records a manual ledger entry. Payments must go through the payment
// endpoint so the cached balance is decremented in the same transaction.
func (s *service) Append(ctx context.Context, req domain.AppendTransactionRequest) (domain.DebtTransaction, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.DebtTransaction{}, domain.ErrInvalidOrganization
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil {
		return domain.DebtTransaction{}, domain.ErrInvalidCustomer
	}

	transactionType, err := domain.ParseTransactionType(req.Type)
	if err != nil {
		return domain.DebtTransaction{}, err
	}
	if transactionType == domain.TransactionTypePayment {
		return domain.DebtTransaction{}, domain.ErrUnsupportedTransactionType
	}
	if req.Amount == 0 || (transactionType == domain.TransactionTypeOrder && req.Amount < 0) {
		return domain.DebtTransaction{}, domain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return domain.DebtTransaction{}, domain.ErrInvalidCreatedBy
	}

	entry := domain.DebtTransaction{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		CustomerID: customerID,
		Type:       transactionType,
		Amount:     req.Amount,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  s.clock.Now(),
	}
	if req.OrderID != "" {
		orderID, err := snowflake.ParseString(req.OrderID)
		if err != nil {
			return domain.DebtTransaction{}, domain.ErrInvalidOrderID
		}
		entry.OrderID = &orderID
	}
	if req.DueDate != nil {
		dueDate := req.DueDate.UTC()
		entry.DueDate = &dueDate
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		entry.Notes = &notes
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		sum, err := s.repo.SumForCustomer(ctx, tx, orgID, customerID)
		if err != nil {
			return err
		}
		entry.BalanceBefore = clampBalance(sum)
		entry.BalanceAfter = clampBalance(sum + entry.Amount)
		return s.repo.Insert(ctx, tx, &entry)
	})
	if err != nil {
		s.log.Error("failed to append ledger entry",
			zap.String("org_id", orgID.String()),
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		return domain.DebtTransaction{}, err
	}

	s.log.Info("ledger entry appended",
		zap.String("org_id", orgID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("transaction_type", string(transactionType)),
		zap.Int64("amount", entry.Amount))

	return entry, nil
}

func (s *service) SumForCustomer(ctx context.Context, rawCustomerID string) (int64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidOrganization
	}
	customerID, err := snowflake.ParseString(rawCustomerID)
	if err != nil {
		return 0, domain.ErrInvalidCustomer
	}
	return s.repo.SumForCustomer(ctx, s.db, orgID, customerID)
}

func (s *service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.HistoryResponse{}, domain.ErrInvalidOrganization
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil {
		return domain.HistoryResponse{}, domain.ErrInvalidCustomer
	}

	filter := domain.HistoryFilter{StartDate: req.StartDate, EndDate: req.EndDate}
	if req.Type != "" {
		transactionType, err := domain.ParseTransactionType(req.Type)
		if err != nil {
			return domain.HistoryResponse{}, err
		}
		filter.Type = transactionType
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return domain.HistoryResponse{}, domain.ErrInvalidTimeRange
	}

	limit := int(req.PageSize)
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	var cursor *domain.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	rows, err := s.repo.List(ctx, s.db, orgID, customerID, filter, cursor, limit+1)
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(t *domain.DebtTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        t.ID.String(),
			CreatedAt: t.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	transactions := make([]domain.DebtTransaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, *row)
	}

	return domain.HistoryResponse{
		PageInfo:     *pageInfo,
		Transactions: transactions,
	}, nil
}

func clampBalance(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
