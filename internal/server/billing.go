package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/renova/pkg/tenantctx"
)

type runBillingRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// billingAsOf resolves the effective run time: an explicit as_of from the
// request body, otherwise the injected clock.
func (s *Server) billingAsOf(req runBillingRequest) time.Time {
	if req.AsOf != nil {
		return req.AsOf.UTC()
	}
	return s.clock.Now().UTC()
}

type cycleResultView struct {
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id,omitempty"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
}

// RunBilling triggers an on-demand billing pass for the calling tenant. The
// periodic background run covers all tenants; this endpoint exists for
// support tooling and tests.
func (s *Server) RunBilling(c *gin.Context) {
	tenantID, ok := tenantctx.TenantIDFromContext(c.Request.Context())
	if !ok || tenantID == 0 {
		AbortWithError(c, newValidationError("tenant", "invalid_tenant", "invalid tenant"))
		return
	}

	var req runBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	results, runErr := s.scheduler.ProcessDueSubscriptions(c.Request.Context(), &tenantID, s.billingAsOf(req))

	views := make([]cycleResultView, 0, len(results))
	for _, r := range results {
		view := cycleResultView{
			SubscriptionID: r.SubscriptionID.String(),
			Outcome:        string(r.Outcome),
		}
		if r.InvoiceID != nil {
			view.InvoiceID = r.InvoiceID.String()
		}
		if r.Err != nil {
			view.Error = r.Err.Error()
		}
		views = append(views, view)
	}

	status := http.StatusOK
	if runErr != nil {
		// Partial failure: the successful cycles committed, the rest stay due.
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"data": views})
}
