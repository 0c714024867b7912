package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cashstore/merchant-api/internal/dto"
	"github.com/cashstore/merchant-api/internal/models"
	"github.com/cashstore/merchant-api/internal/repository"
	appErrors "github.com/cashstore/merchant-api/pkg/errors"
)

const defaultPendingCountTTL = 5 * time.Minute

type cashbackStore interface {
	Create(ctx context.Context, req *models.CashbackRequest) error
	GetByID(ctx context.Context, id string) (*models.CashbackRequest, error)
	Search(ctx context.Context, filter models.CashbackFilter) (*models.CashbackSearchResult, error)
	Metrics(ctx context.Context, merchantID string) (*models.CashbackMetrics, error)
	PendingCount(ctx context.Context, merchantID string) (int, error)
	Analytics(ctx context.Context, merchantID string, start, end *time.Time) (*models.CashbackAnalytics, error)
	RiskContextFor(ctx context.Context, merchantID, customerID, orderID string) (models.RiskContext, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
}

type auditLogger interface {
	Record(ctx context.Context, log *models.AuditLog)
}

type countCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// Notifier receives workflow events after state changes. Implementations must
// not block the request path.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{})
}

// NotifierFunc allows using plain functions as notifiers.
type NotifierFunc func(ctx context.Context, event string, payload interface{})

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event string, payload interface{}) {
	f(ctx, event, payload)
}

type workflowRecorder interface {
	RecordTransition(from, to models.CashbackStatus)
	RecordRiskAssessment(assessment models.RiskAssessment)
	RecordCacheOperation(hit bool)
}

// CashbackService orchestrates the request lifecycle: intake with risk
// scoring, the approval state machine, and merchant-facing reads.
type CashbackService struct {
	repo       cashbackStore
	audit      auditLogger
	cache      countCache
	notifier   Notifier
	metrics    workflowRecorder
	logger     *zap.Logger
	pendingTTL time.Duration
}

// CashbackServiceOption configures the service.
type CashbackServiceOption func(*CashbackService)

// WithCountCache enables the pending-count cache.
func WithCountCache(cache countCache) CashbackServiceOption {
	return func(s *CashbackService) { s.cache = cache }
}

// WithNotifier sets the workflow event sink.
func WithNotifier(n Notifier) CashbackServiceOption {
	return func(s *CashbackService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithWorkflowRecorder wires transition, risk and cache counters.
func WithWorkflowRecorder(rec workflowRecorder) CashbackServiceOption {
	return func(s *CashbackService) { s.metrics = rec }
}

// WithPendingCountTTL overrides how long cached pending counts stay fresh.
func WithPendingCountTTL(ttl time.Duration) CashbackServiceOption {
	return func(s *CashbackService) {
		if ttl > 0 {
			s.pendingTTL = ttl
		}
	}
}

// NewCashbackService constructs the service with defaults.
func NewCashbackService(repo cashbackStore, audit auditLogger, logger *zap.Logger, opts ...CashbackServiceOption) *CashbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &CashbackService{
		repo:       repo,
		audit:      audit,
		logger:     logger,
		notifier:   NotifierFunc(func(context.Context, string, interface{}) {}),
		pendingTTL: defaultPendingCountTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create scores a new request and stores it in pending status. The risk
// assessment is computed exactly once here and never re-evaluated.
func (s *CashbackService) Create(ctx context.Context, req dto.CreateCashbackRequest, actor models.AuthContext) (*models.CashbackRequest, error) {
	if req.RequestedAmount > req.OrderAmount {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested amount cannot exceed order amount")
	}

	riskCtx, err := s.repo.RiskContextFor(ctx, actor.MerchantID, req.CustomerID, req.OrderID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load risk context")
	}
	riskCtx.CustomerAccountAge = req.CustomerAccountAge
	riskCtx.CustomerVerified = req.CustomerVerified

	assessment := AssessRisk(models.RiskInput{
		MerchantID:      actor.MerchantID,
		CustomerID:      req.CustomerID,
		OrderID:         req.OrderID,
		RequestedAmount: req.RequestedAmount,
		OrderAmount:     req.OrderAmount,
	}, riskCtx)

	now := time.Now().UTC()
	notes := "Request created"
	if assessment.FlaggedForReview {
		notes = "Request created and flagged for manual review"
	}
	cashback := &models.CashbackRequest{
		MerchantID:          actor.MerchantID,
		CustomerID:          req.CustomerID,
		OrderID:             req.OrderID,
		RequestedAmount:     req.RequestedAmount,
		OrderAmount:         req.OrderAmount,
		Status:              models.CashbackStatusPending,
		RiskScore:           assessment.RiskScore,
		RiskFactors:         assessment.RiskFactors,
		FlaggedForReview:    assessment.FlaggedForReview,
		PaymentStatus:       models.PaymentStatusPending,
		CustomerBankDetails: req.BankDetails,
		Timeline: models.Timeline{{
			Status:    models.CashbackStatusPending,
			Timestamp: now,
			Notes:     notes,
			By:        actor.ActorID,
		}},
	}
	if err := s.repo.Create(ctx, cashback); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create cashback request")
	}

	s.invalidatePendingCount(ctx, actor.MerchantID)
	if s.metrics != nil {
		s.metrics.RecordRiskAssessment(assessment)
	}
	s.emitAudit(ctx, actor, models.AuditActionCashbackCreate, cashback.ID, map[string]interface{}{
		"requestNumber": cashback.RequestNumber,
		"amount":        cashback.RequestedAmount,
		"riskScore":     cashback.RiskScore,
		"flagged":       cashback.FlaggedForReview,
	})
	if cashback.FlaggedForReview {
		s.notifier.Notify(ctx, "cashback.flagged", cashback)
	}
	s.logger.Info("cashback request created",
		zap.String("id", cashback.ID),
		zap.String("request_number", cashback.RequestNumber),
		zap.Int("risk_score", cashback.RiskScore),
		zap.Bool("flagged", cashback.FlaggedForReview),
	)
	return cashback, nil
}

// Get loads one request, enforcing merchant ownership.
func (s *CashbackService) Get(ctx context.Context, id string, actor models.AuthContext) (*models.CashbackRequest, error) {
	return s.loadOwned(ctx, id, actor)
}

// Search returns a filtered page of the merchant's requests.
func (s *CashbackService) Search(ctx context.Context, query dto.CashbackQuery, actor models.AuthContext) (*models.CashbackSearchResult, error) {
	filter := models.CashbackFilter{
		MerchantID:  actor.MerchantID,
		Status:      models.CashbackStatus(strings.ToLower(query.Status)),
		CustomerID:  query.CustomerID,
		StartDate:   query.StartDate,
		EndDate:     query.EndDate,
		MinAmount:   query.MinAmount,
		MaxAmount:   query.MaxAmount,
		RiskLevel:   strings.ToLower(query.RiskLevel),
		FlaggedOnly: query.FlaggedOnly,
		SortBy:      query.SortBy,
		SortOrder:   query.SortOrder,
		Page:        query.Page,
		Limit:       query.Limit,
	}
	if filter.RiskLevel != "" {
		if _, _, ok := models.RiskBucketBounds(filter.RiskLevel); !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "riskLevel must be low, medium or high")
		}
	}
	result, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search cashback requests")
	}
	return result, nil
}

// Metrics returns per-status counters for the merchant dashboard.
func (s *CashbackService) Metrics(ctx context.Context, actor models.AuthContext) (*models.CashbackMetrics, error) {
	metrics, err := s.repo.Metrics(ctx, actor.MerchantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cashback metrics")
	}
	return metrics, nil
}

// Analytics returns trend aggregates over an optional date range.
func (s *CashbackService) Analytics(ctx context.Context, actor models.AuthContext, start, end *time.Time) (*models.CashbackAnalytics, error) {
	analytics, err := s.repo.Analytics(ctx, actor.MerchantID, start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cashback analytics")
	}
	return analytics, nil
}

// PendingCount returns the merchant's pending request count, served from
// cache when fresh.
func (s *CashbackService) PendingCount(ctx context.Context, actor models.AuthContext) (*dto.PendingCountResponse, error) {
	key := pendingCountKey(actor.MerchantID)
	if s.cache != nil {
		var cached int
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return &dto.PendingCountResponse{Count: cached, Cached: true}, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}
	count, err := s.repo.PendingCount(ctx, actor.MerchantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending requests")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, count, s.pendingTTL); err != nil {
			s.logger.Warn("failed to cache pending count", zap.Error(err))
		}
	}
	return &dto.PendingCountResponse{Count: count, Cached: false}, nil
}

// Approve moves a pending request to approved. The approved amount may be
// lower than requested but never higher.
func (s *CashbackService) Approve(ctx context.Context, id string, req dto.ApproveCashbackRequest, actor models.AuthContext) (*models.CashbackRequest, error) {
	cashback, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if req.ApprovedAmount > cashback.RequestedAmount {
		return nil, appErrors.Clone(appErrors.ErrValidation, "approved amount cannot exceed requested amount")
	}

	now := time.Now().UTC()
	notes := req.Notes
	if notes == "" {
		notes = "Request approved"
	}
	params := repository.TransitionParams{
		ID:             cashback.ID,
		FromStatus:     models.CashbackStatusPending,
		ToStatus:       models.CashbackStatusApproved,
		ReviewedBy:     &actor.ActorID,
		ReviewedAt:     &now,
		ApprovedAmount: &req.ApprovedAmount,
		ApprovalNotes:  optionalString(req.Notes),
		Entry: models.TimelineEntry{
			Status:    models.CashbackStatusApproved,
			Timestamp: now,
			Notes:     notes,
			By:        actor.ActorID,
		},
	}
	if err := s.transition(ctx, cashback, params); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor, models.AuditActionCashbackApprove, cashback.ID, map[string]interface{}{
		"requestNumber":  cashback.RequestNumber,
		"approvedAmount": req.ApprovedAmount,
	})
	s.notifier.Notify(ctx, "cashback.approved", cashback)
	return s.reload(ctx, cashback.ID)
}

// Reject moves a pending request to rejected. A reason is mandatory.
func (s *CashbackService) Reject(ctx context.Context, id string, req dto.RejectCashbackRequest, actor models.AuthContext) (*models.CashbackRequest, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	cashback, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:              cashback.ID,
		FromStatus:      models.CashbackStatusPending,
		ToStatus:        models.CashbackStatusRejected,
		ReviewedBy:      &actor.ActorID,
		ReviewedAt:      &now,
		RejectionReason: &reason,
		Entry: models.TimelineEntry{
			Status:    models.CashbackStatusRejected,
			Timestamp: now,
			Notes:     reason,
			By:        actor.ActorID,
		},
	}
	if err := s.transition(ctx, cashback, params); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor, models.AuditActionCashbackReject, cashback.ID, map[string]interface{}{
		"requestNumber": cashback.RequestNumber,
		"reason":        reason,
	})
	s.notifier.Notify(ctx, "cashback.rejected", cashback)
	return s.reload(ctx, cashback.ID)
}

// MarkAsPaid records a disbursement completed outside the payout gateway,
// for example a manual bank transfer. Only approved requests qualify.
func (s *CashbackService) MarkAsPaid(ctx context.Context, id string, req dto.MarkPaidRequest, actor models.AuthContext) (*models.CashbackRequest, error) {
	cashback, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	amount := cashback.PayableAmount()
	notes := req.Notes
	if notes == "" {
		notes = fmt.Sprintf("Paid %.2f via %s", amount, req.PaymentMethod)
	}
	params := repository.TransitionParams{
		ID:               cashback.ID,
		FromStatus:       models.CashbackStatusApproved,
		ToStatus:         models.CashbackStatusPaid,
		PaidAt:           &now,
		PaidAmount:       &amount,
		PaymentStatus:    models.PaymentStatusProcessed,
		PaymentMethod:    &req.PaymentMethod,
		PaymentReference: &req.PaymentReference,
		Entry: models.TimelineEntry{
			Status:    models.CashbackStatusPaid,
			Timestamp: now,
			Notes:     notes,
			By:        actor.ActorID,
		},
	}
	if err := s.transition(ctx, cashback, params); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor, models.AuditActionCashbackPaid, cashback.ID, map[string]interface{}{
		"requestNumber": cashback.RequestNumber,
		"amount":        amount,
		"method":        req.PaymentMethod,
		"reference":     req.PaymentReference,
	})
	s.notifier.Notify(ctx, "cashback.paid", cashback)
	return s.reload(ctx, cashback.ID)
}

// BulkAction applies approve or reject to each id independently. One failing
// request never aborts the rest; the response carries per-id outcomes.
func (s *CashbackService) BulkAction(ctx context.Context, req dto.BulkActionRequest, actor models.AuthContext) (*dto.BulkActionResponse, error) {
	if req.Action == "reject" && strings.TrimSpace(req.RejectionReason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejectionReason is required for bulk reject")
	}

	results := make([]models.BulkActionResult, 0, len(req.RequestIDs))
	successful := 0
	for _, id := range req.RequestIDs {
		result := models.BulkActionResult{RequestID: id}
		var (
			cashback *models.CashbackRequest
			err      error
		)
		switch req.Action {
		case "approve":
			cashback, err = s.bulkApproveOne(ctx, id, req.Notes, actor)
		case "reject":
			cashback, err = s.Reject(ctx, id, dto.RejectCashbackRequest{Reason: req.RejectionReason}, actor)
		default:
			err = appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject")
		}
		if err != nil {
			result.Message = appErrors.FromError(err).Message
		} else {
			result.Success = true
			result.RequestNumber = cashback.RequestNumber
			successful++
		}
		results = append(results, result)
	}

	return &dto.BulkActionResponse{
		Results: results,
		Summary: dto.BulkActionSummary{
			Total:      len(req.RequestIDs),
			Successful: successful,
			Failed:     len(req.RequestIDs) - successful,
		},
	}, nil
}

// bulkApproveOne approves at the full requested amount, the bulk default.
func (s *CashbackService) bulkApproveOne(ctx context.Context, id, notes string, actor models.AuthContext) (*models.CashbackRequest, error) {
	cashback, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.Approve(ctx, id, dto.ApproveCashbackRequest{
		ApprovedAmount: cashback.RequestedAmount,
		Notes:          notes,
	}, actor)
}

// transition runs the guarded status update and translates a lost
// compare-and-swap into a client error naming both statuses.
func (s *CashbackService) transition(ctx context.Context, cashback *models.CashbackRequest, params repository.TransitionParams) error {
	if err := s.repo.Transition(ctx, params); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			current, loadErr := s.repo.GetByID(ctx, cashback.ID)
			status := cashback.Status
			if loadErr == nil {
				status = current.Status
			}
			return appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("cannot transition request from %s to %s", status, params.ToStatus))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update cashback status")
	}
	s.invalidatePendingCount(ctx, cashback.MerchantID)
	if s.metrics != nil {
		s.metrics.RecordTransition(params.FromStatus, params.ToStatus)
	}
	return nil
}

func (s *CashbackService) loadOwned(ctx context.Context, id string, actor models.AuthContext) (*models.CashbackRequest, error) {
	cashback, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cashback request")
	}
	if cashback.MerchantID != actor.MerchantID && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	return cashback, nil
}

func (s *CashbackService) reload(ctx context.Context, id string) (*models.CashbackRequest, error) {
	cashback, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload cashback request")
	}
	return cashback, nil
}

func (s *CashbackService) invalidatePendingCount(ctx context.Context, merchantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, pendingCountKey(merchantID)); err != nil {
		s.logger.Warn("failed to invalidate pending count cache", zap.Error(err))
	}
}

func (s *CashbackService) emitAudit(ctx context.Context, actor models.AuthContext, action, resourceID string, detail map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		payload = nil
	}
	s.audit.Record(ctx, &models.AuditLog{
		MerchantID: &actor.MerchantID,
		ActorID:    &actor.ActorID,
		Action:     action,
		Resource:   "cashback_request",
		ResourceID: &resourceID,
		Detail:     payload,
	})
}

func pendingCountKey(merchantID string) string {
	return "cashback:pending_count:" + merchantID
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
