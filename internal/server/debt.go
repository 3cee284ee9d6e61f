package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/debtor/internal/credit/domain"
)

func (s *Server) GetCustomerDebt(c *gin.Context) {
	resp, err := s.creditSvc.GetCustomerDebt(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type checkCreditRequest struct {
	OrderAmount   int64  `json:"order_amount"`
	ReserveCredit bool   `json:"reserve_credit"`
	OrderID       string `json:"order_id"`
	DueDate       string `json:"due_date"`
	UserID        string `json:"user_id"`
}

func (s *Server) CheckCreditAvailability(c *gin.Context) {
	var req checkCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dueDate, err := parseOptionalTime(req.DueDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due_date"))
		return
	}

	resp, err := s.creditSvc.CheckCreditAvailability(c.Request.Context(), creditdomain.CheckCreditRequest{
		CustomerID:    c.Param("customer_id"),
		OrderAmount:   req.OrderAmount,
		ReserveCredit: req.ReserveCredit,
		OrderID:       strings.TrimSpace(req.OrderID),
		DueDate:       dueDate,
		UserID:        strings.TrimSpace(req.UserID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type recordPaymentRequest struct {
	Amount     int64  `json:"amount"`
	Notes      string `json:"notes"`
	RecordedBy string `json:"recorded_by"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.RecordPayment(c.Request.Context(), creditdomain.RecordPaymentRequest{
		CustomerID: c.Param("customer_id"),
		Amount:     req.Amount,
		Notes:      strings.TrimSpace(req.Notes),
		RecordedBy: strings.TrimSpace(req.RecordedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateCreditLimitRequest struct {
	CreditLimit int64  `json:"credit_limit"`
	Reason      string `json:"reason"`
	ChangedBy   string `json:"changed_by"`
}

func (s *Server) UpdateCreditLimit(c *gin.Context) {
	var req updateCreditLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.UpdateCreditLimit(c.Request.Context(), creditdomain.UpdateCreditLimitRequest{
		CustomerID:  c.Param("customer_id"),
		CreditLimit: req.CreditLimit,
		Reason:      strings.TrimSpace(req.Reason),
		ChangedBy:   strings.TrimSpace(req.ChangedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type blockCustomerRequest struct {
	Reason    string `json:"reason"`
	BlockedBy string `json:"blocked_by"`
}

func (s *Server) BlockCustomer(c *gin.Context) {
	var req blockCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.BlockCustomer(c.Request.Context(), creditdomain.BlockCustomerRequest{
		CustomerID: c.Param("customer_id"),
		Reason:     strings.TrimSpace(req.Reason),
		BlockedBy:  strings.TrimSpace(req.BlockedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type unblockCustomerRequest struct {
	UnblockedBy string `json:"unblocked_by"`
}

func (s *Server) UnblockCustomer(c *gin.Context) {
	var req unblockCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.UnblockCustomer(c.Request.Context(), creditdomain.UnblockCustomerRequest{
		CustomerID:  c.Param("customer_id"),
		UnblockedBy: strings.TrimSpace(req.UnblockedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
