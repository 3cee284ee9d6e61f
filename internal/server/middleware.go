package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/debtor/internal/observability/context"
	"github.com/smallbiznis/debtor/internal/orgcontext"
)

const HeaderOrg = "X-Org-ID"

// OrgContext resolves the acting organization from the X-Org-ID header and
// injects it into the request context. Every /api route is org-scoped.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, newValidationError("organization", "invalid_organization", "missing "+HeaderOrg+" header"))
			return
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("organization", "invalid_organization", "invalid "+HeaderOrg+" header"))
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CreditCheckRateLimit throttles credit checks per organization. Disabled
// limiters pass everything through.
func (s *Server) CreditCheckRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := s.limiter.AllowOrg(c.Request.Context(), orgID.String())
		if err != nil {
			// Redis being down should not take credit checks with it.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), orgID.String(), "credit_check")
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}

		c.Next()
	}
}
