package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cashstore/merchant-api/internal/dto"
	"github.com/cashstore/merchant-api/internal/models"
	appErrors "github.com/cashstore/merchant-api/pkg/errors"
	"github.com/cashstore/merchant-api/pkg/response"
)

type cashbackService interface {
	Create(ctx context.Context, req dto.CreateCashbackRequest, actor models.AuthContext) (*models.CashbackRequest, error)
	Get(ctx context.Context, id string, actor models.AuthContext) (*models.CashbackRequest, error)
	Search(ctx context.Context, query dto.CashbackQuery, actor models.AuthContext) (*models.CashbackSearchResult, error)
	Metrics(ctx context.Context, actor models.AuthContext) (*models.CashbackMetrics, error)
	Analytics(ctx context.Context, actor models.AuthContext, start, end *time.Time) (*models.CashbackAnalytics, error)
	PendingCount(ctx context.Context, actor models.AuthContext) (*dto.PendingCountResponse, error)
	Approve(ctx context.Context, id string, req dto.ApproveCashbackRequest, actor models.AuthContext) (*models.CashbackRequest, error)
	Reject(ctx context.Context, id string, req dto.RejectCashbackRequest, actor models.AuthContext) (*models.CashbackRequest, error)
	MarkAsPaid(ctx context.Context, id string, req dto.MarkPaidRequest, actor models.AuthContext) (*models.CashbackRequest, error)
	BulkAction(ctx context.Context, req dto.BulkActionRequest, actor models.AuthContext) (*dto.BulkActionResponse, error)
}

type payoutService interface {
	ProcessPayout(ctx context.Context, id string, req dto.ProcessPaymentRequest, actor models.AuthContext) (*models.CashbackRequest, error)
	PayoutStatus(ctx context.Context, id string, actor models.AuthContext) (*dto.PayoutStatusResponse, error)
}

type auditTrail interface {
	History(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// CashbackHandler exposes REST endpoints for the cashback workflow.
type CashbackHandler struct {
	service cashbackService
	payout  payoutService
	audit   auditTrail
}

// NewCashbackHandler constructs the handler. audit may be nil, which disables
// the history endpoint.
func NewCashbackHandler(service cashbackService, payout payoutService, audit auditTrail) *CashbackHandler {
	return &CashbackHandler{service: service, payout: payout, audit: audit}
}

// Create godoc
// @Summary Submit a cashback request
// @Tags Cashback
// @Accept json
// @Produce json
// @Param payload body dto.CreateCashbackRequest true "Cashback payload"
// @Success 201 {object} response.Envelope
// @Router /cashback [post]
func (h *CashbackHandler) Create(c *gin.Context) {
	var req dto.CreateCashbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid cashback payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	cashback, err := h.service.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, cashback, nil)
}

// List godoc
// @Summary Search cashback requests
// @Tags Cashback
// @Produce json
// @Param status query string false "Status filter"
// @Param customerId query string false "Customer filter"
// @Param riskLevel query string false "Risk bucket: low, medium or high"
// @Param flagged query bool false "Only flagged requests"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /cashback [get]
func (h *CashbackHandler) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	query, err := parseCashbackQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Search(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{
		Page:       result.Page,
		PageSize:   result.Limit,
		TotalCount: result.TotalCount,
	}
	response.JSON(c, http.StatusOK, result.Requests, pagination, map[string]interface{}{
		"hasNext":     result.HasNext,
		"hasPrevious": result.HasPrevious,
	})
}

// Get godoc
// @Summary Get cashback request detail
// @Tags Cashback
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /cashback/{id} [get]
func (h *CashbackHandler) Get(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	cashback, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cashback, nil)
}

// Metrics godoc
// @Summary Per-status request counters for the merchant dashboard
// @Tags Cashback
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /cashback/metrics [get]
func (h *CashbackHandler) Metrics(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	metrics, err := h.service.Metrics(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, metrics, nil)
}

// Analytics godoc
// @Summary Cashback trend analytics
// @Tags Cashback
// @Produce json
// @Param startDate query string false "Range start (RFC3339 or YYYY-MM-DD)"
// @Param endDate query string false "Range end"
// @Success 200 {object} response.Envelope
// @Router /cashback/analytics [get]
func (h *CashbackHandler) Analytics(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	start, err := parseTimeParam(c.Query("startDate"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid startDate"))
		return
	}
	end, err := parseTimeParam(c.Query("endDate"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid endDate"))
		return
	}
	analytics, err := h.service.Analytics(c.Request.Context(), actor, start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, analytics, nil)
}

// PendingCount godoc
// @Summary Count of requests awaiting review
// @Tags Cashback
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /cashback/pending-count [get]
func (h *CashbackHandler) PendingCount(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	count, err := h.service.PendingCount(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, count, nil)
}

// Approve godoc
// @Summary Approve a pending cashback request
// @Tags Cashback
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ApproveCashbackRequest true "Approval payload"
// @Success 200 {object} response.Envelope
// @Router /cashback/{id}/approve [put]
func (h *CashbackHandler) Approve(c *gin.Context) {
	var req dto.ApproveCashbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approval payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	cashback, err := h.service.Approve(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cashback, nil)
}

// Reject godoc
// @Summary Reject a pending cashback request
// @Tags Cashback
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RejectCashbackRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /cashback/{id}/reject [put]
func (h *CashbackHandler) Reject(c *gin.Context) {
	var req dto.RejectCashbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	cashback, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cashback, nil)
}

// MarkPaid godoc
// @Summary Record an out-of-band disbursement
// @Tags Cashback
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.MarkPaidRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /cashback/{id}/mark-paid [put]
func (h *CashbackHandler) MarkPaid(c *gin.Context) {
	var req dto.MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payment payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	cashback, err := h.service.MarkAsPaid(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cashback, nil)
}

// ProcessPayment godoc
// @Summary Disburse an approved request through the payout gateway
// @Tags Cashback
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ProcessPaymentRequest false "Optional inline bank details"
// @Success 200 {object} response.Envelope
// @Router /cashback/{id}/process-payment [post]
func (h *CashbackHandler) ProcessPayment(c *gin.Context) {
	if h.payout == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "payout service not configured"))
		return
	}
	var req dto.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payment payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	cashback, err := h.payout.ProcessPayout(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		// A failed disbursement leaves the approval intact; report partial
		// success with the payout error in metadata instead of failing the call.
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrPayoutFailed.Code && cashback != nil {
			response.JSON(c, http.StatusOK, cashback, nil, map[string]interface{}{
				"payoutError":    appErr.Message,
				"paymentPending": true,
			})
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cashback, nil)
}

// PayoutStatus godoc
// @Summary Query the gateway state of an initiated payout
// @Tags Cashback
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /cashback/{id}/payout-status [get]
func (h *CashbackHandler) PayoutStatus(c *gin.Context) {
	if h.payout == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "payout service not configured"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	status, err := h.payout.PayoutStatus(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// History godoc
// @Summary Audit trail for one cashback request
// @Tags Cashback
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /cashback/{id}/history [get]
func (h *CashbackHandler) History(c *gin.Context) {
	if h.audit == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "audit service not configured"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	// Ownership check rides on the detail lookup.
	cashback, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.audit.History(c.Request.Context(), "cashback_request", cashback.ID, 100)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit history"))
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// BulkAction godoc
// @Summary Approve or reject multiple requests in one call
// @Tags Cashback
// @Accept json
// @Produce json
// @Param payload body dto.BulkActionRequest true "Bulk action payload"
// @Success 200 {object} response.Envelope
// @Router /cashback/bulk-action [post]
func (h *CashbackHandler) BulkAction(c *gin.Context) {
	var req dto.BulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid bulk action payload"))
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	result, err := h.service.BulkAction(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, map[string]interface{}{
		"partialSuccess": result.Summary.Failed > 0 && result.Summary.Successful > 0,
	})
}

func (h *CashbackHandler) actor(c *gin.Context) (models.AuthContext, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.AuthContext{}, false
	}
	return claims.AuthContext(), true
}

func parseCashbackQuery(c *gin.Context) (dto.CashbackQuery, error) {
	query := dto.CashbackQuery{
		Status:     strings.TrimSpace(c.Query("status")),
		CustomerID: strings.TrimSpace(c.Query("customerId")),
		RiskLevel:  strings.TrimSpace(c.Query("riskLevel")),
		SortBy:     strings.TrimSpace(c.Query("sortBy")),
		SortOrder:  strings.TrimSpace(c.Query("sortOrder")),
	}

	var err error
	if query.StartDate, err = parseTimeParam(c.Query("startDate")); err != nil {
		return query, appErrors.Clone(appErrors.ErrValidation, "invalid startDate")
	}
	if query.EndDate, err = parseTimeParam(c.Query("endDate")); err != nil {
		return query, appErrors.Clone(appErrors.ErrValidation, "invalid endDate")
	}
	if query.MinAmount, err = parseFloatParam(c.Query("minAmount")); err != nil {
		return query, appErrors.Clone(appErrors.ErrValidation, "invalid minAmount")
	}
	if query.MaxAmount, err = parseFloatParam(c.Query("maxAmount")); err != nil {
		return query, appErrors.Clone(appErrors.ErrValidation, "invalid maxAmount")
	}
	if raw := c.Query("flagged"); raw != "" {
		flagged, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "invalid flagged value")
		}
		query.FlaggedOnly = flagged
	}
	query.Page = parseIntParam(c.Query("page"), 1)
	query.Limit = parseIntParam(c.Query("limit"), 20)
	return query, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			utc := ts.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unsupported time format: %s", raw)
}

func parseFloatParam(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func parseIntParam(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
