package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/debtor/internal/ledger/domain"
	"github.com/smallbiznis/debtor/pkg/db/pagination"
)

func (s *Server) GetDebtHistory(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Type      string `form:"type"`
		StartDate string `form:"start_date"`
		EndDate   string `form:"end_date"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startDate, err := parseOptionalTime(query.StartDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}

	endDate, err := parseOptionalTime(query.EndDate, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
		return
	}

	resp, err := s.ledgerSvc.History(c.Request.Context(), ledgerdomain.HistoryRequest{
		CustomerID: c.Param("customer_id"),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
		Type:       strings.TrimSpace(query.Type),
		StartDate:  startDate,
		EndDate:    endDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Transactions,
		"page_info": resp.PageInfo,
	})
}

type createAdjustmentRequest struct {
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	OrderID   string `json:"order_id"`
	DueDate   string `json:"due_date"`
	Notes     string `json:"notes"`
	CreatedBy string `json:"created_by"`
}

func (s *Server) CreateAdjustment(c *gin.Context) {
	var req createAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	transactionType := strings.TrimSpace(req.Type)
	if transactionType == "" {
		transactionType = string(ledgerdomain.TransactionTypeAdjustment)
	}

	dueDate, err := parseOptionalTime(req.DueDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due_date"))
		return
	}

	resp, err := s.ledgerSvc.Append(c.Request.Context(), ledgerdomain.AppendTransactionRequest{
		CustomerID: c.Param("customer_id"),
		Type:       transactionType,
		Amount:     req.Amount,
		OrderID:    strings.TrimSpace(req.OrderID),
		DueDate:    dueDate,
		Notes:      strings.TrimSpace(req.Notes),
		CreatedBy:  strings.TrimSpace(req.CreatedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
