package domain

import (
	"fmt"
	"strconv"
)

// PolicyInput is the snapshot a credit decision is evaluated against.
type PolicyInput struct {
	CurrentDebt int64
	CreditLimit int64
	OrderAmount int64
	IsBlocked   bool
	BlockReason string
}

const defaultBlockReason = "credit limit exceeded"

// EvaluatePolicy decides whether an order may be placed on credit. It is a
// pure function over the snapshot; persistence and locking live elsewhere.
//
// A blocked customer is rejected regardless of amounts. Otherwise the order
// is allowed exactly when current debt plus the order amount stays within
// the credit limit.
func EvaluatePolicy(in PolicyInput) CreditCheckResult {
	result := CreditCheckResult{
		CurrentDebt: in.CurrentDebt,
		CreditLimit: in.CreditLimit,
		OrderAmount: in.OrderAmount,
	}

	if in.IsBlocked {
		reason := in.BlockReason
		if reason == "" {
			reason = defaultBlockReason
		}
		result.Message = fmt.Sprintf("customer is blocked from credit purchases: %s", reason)
		return result
	}

	projected := in.CurrentDebt + in.OrderAmount
	if projected > in.CreditLimit {
		shortfall := projected - in.CreditLimit
		result.Shortfall = &shortfall
		result.Message = fmt.Sprintf(
			"credit limit exceeded: current debt %s plus order %s exceeds limit %s by %s",
			FormatAmount(in.CurrentDebt),
			FormatAmount(in.OrderAmount),
			FormatAmount(in.CreditLimit),
			FormatAmount(shortfall),
		)
		return result
	}

	result.Allowed = true
	return result
}

// FormatAmount renders a minor-unit amount with thousands separators for
// human-facing messages.
func FormatAmount(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	raw := strconv.FormatInt(amount, 10)
	var out []byte
	for i, digit := range []byte(raw) {
		if i > 0 && (len(raw)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digit)
	}
	if negative {
		return "-" + string(out)
	}
	return string(out)
}
