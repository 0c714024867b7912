package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cashstore/merchant-api/internal/dto"
	"github.com/cashstore/merchant-api/internal/models"
	"github.com/cashstore/merchant-api/internal/repository"
	appErrors "github.com/cashstore/merchant-api/pkg/errors"
	"github.com/cashstore/merchant-api/pkg/payment"
)

const defaultPayoutTimeout = 30 * time.Second

type payoutGateway interface {
	CreatePayout(ctx context.Context, req payment.PayoutRequest) (*payment.PayoutResult, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (*payment.PayoutStatus, error)
}

type payoutOutcomeRecorder interface {
	RecordPayout(outcome string, amount float64)
}

// PayoutService drives disbursements through the external payout gateway.
// A failed or timed-out payout leaves the request approved so it can be
// retried; approval is never reverted by payment problems.
type PayoutService struct {
	repo    cashbackStore
	gateway payoutGateway
	audit   auditLogger
	metrics payoutOutcomeRecorder
	logger  *zap.Logger
	timeout time.Duration
}

// PayoutServiceOption configures the service.
type PayoutServiceOption func(*PayoutService)

// WithPayoutTimeout bounds each gateway call.
func WithPayoutTimeout(d time.Duration) PayoutServiceOption {
	return func(s *PayoutService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPayoutRecorder wires payout outcome counters.
func WithPayoutRecorder(rec payoutOutcomeRecorder) PayoutServiceOption {
	return func(s *PayoutService) { s.metrics = rec }
}

// NewPayoutService constructs the service.
func NewPayoutService(repo cashbackStore, gateway payoutGateway, audit auditLogger, logger *zap.Logger, opts ...PayoutServiceOption) *PayoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &PayoutService{
		repo:    repo,
		gateway: gateway,
		audit:   audit,
		logger:  logger,
		timeout: defaultPayoutTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// ProcessPayout disburses an approved request through the gateway and, on
// success, moves it to paid in a single guarded update. Bank details may be
// supplied inline for requests created without them.
func (s *PayoutService) ProcessPayout(ctx context.Context, id string, req dto.ProcessPaymentRequest, actor models.AuthContext) (*models.CashbackRequest, error) {
	cashback, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if cashback.Status != models.CashbackStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot process payment for request in %s status", cashback.Status))
	}

	bank := cashback.CustomerBankDetails
	if req.BankDetails != nil {
		bank = req.BankDetails
	}
	if bank == nil || !bank.Complete() {
		return nil, appErrors.ErrMissingBankDetails
	}

	amount := cashback.PayableAmount()
	gatewayCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.gateway.CreatePayout(gatewayCtx, payment.PayoutRequest{
		Amount:          amount,
		AccountNumber:   bank.AccountNumber,
		IFSCCode:        bank.IFSCCode,
		BeneficiaryName: bank.AccountHolderName,
		Purpose:         "cashback",
		Reference:       cashback.RequestNumber,
	})
	if err != nil {
		failErr := s.recordFailure(ctx, cashback, actor, amount, err)
		// Return the still-approved request so callers can report a partial
		// success: the approval stands, only the disbursement failed.
		refreshed, loadErr := s.repo.GetByID(ctx, cashback.ID)
		if loadErr != nil {
			refreshed = cashback
		}
		return refreshed, failErr
	}

	now := time.Now().UTC()
	method := "bank_transfer"
	params := repository.TransitionParams{
		ID:            cashback.ID,
		FromStatus:    models.CashbackStatusApproved,
		ToStatus:      models.CashbackStatusPaid,
		PaidAt:        &now,
		PaidAmount:    &amount,
		PayoutID:      &result.PayoutID,
		PaymentStatus: models.PaymentStatusProcessed,
		PaymentMethod: &method,
		Entry: models.TimelineEntry{
			Status:    models.CashbackStatusPaid,
			Timestamp: now,
			Notes:     fmt.Sprintf("Payout %s completed for %.2f", result.PayoutID, amount),
			By:        actor.ActorID,
		},
	}
	if req.BankDetails != nil {
		params.BankDetails = req.BankDetails
	}
	if err := s.repo.Transition(ctx, params); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			// Money already moved; another actor raced us to paid. Surface
			// the conflict but never retry the gateway call.
			s.logger.Error("payout succeeded but status update lost the race",
				zap.String("id", cashback.ID),
				zap.String("payout_id", result.PayoutID),
			)
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request was updated concurrently after payout")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payout")
	}

	if s.metrics != nil {
		s.metrics.RecordPayout("success", amount)
	}
	s.emitAudit(ctx, actor, cashback, map[string]interface{}{
		"outcome":  "success",
		"payoutId": result.PayoutID,
		"amount":   amount,
	})
	s.logger.Info("payout completed",
		zap.String("id", cashback.ID),
		zap.String("payout_id", result.PayoutID),
		zap.Float64("amount", amount),
	)

	updated, err := s.repo.GetByID(ctx, cashback.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload cashback request")
	}
	return updated, nil
}

// recordFailure marks the payment attempt failed while keeping the request
// approved, then returns a gateway error for the caller.
func (s *PayoutService) recordFailure(ctx context.Context, cashback *models.CashbackRequest, actor models.AuthContext, amount float64, cause error) error {
	outcome := "failure"
	status := models.PaymentStatusFailed
	notes := fmt.Sprintf("Payout attempt failed: %v", cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		// Outcome unknown; leave it processing so status polling reconciles.
		outcome = "timeout"
		status = models.PaymentStatusProcessing
		notes = "Payout attempt timed out, outcome unknown"
	}

	params := repository.TransitionParams{
		ID:            cashback.ID,
		FromStatus:    models.CashbackStatusApproved,
		ToStatus:      models.CashbackStatusApproved,
		PaymentStatus: status,
		Entry: models.TimelineEntry{
			Status:    models.CashbackStatusApproved,
			Timestamp: time.Now().UTC(),
			Notes:     notes,
			By:        actor.ActorID,
		},
	}
	if err := s.repo.Transition(ctx, params); err != nil {
		s.logger.Warn("failed to record payout failure", zap.String("id", cashback.ID), zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordPayout(outcome, amount)
	}
	s.emitAudit(ctx, actor, cashback, map[string]interface{}{
		"outcome": outcome,
		"amount":  amount,
		"error":   cause.Error(),
	})
	s.logger.Error("payout attempt failed",
		zap.String("id", cashback.ID),
		zap.String("outcome", outcome),
		zap.Error(cause),
	)
	return appErrors.Wrap(cause, appErrors.ErrPayoutFailed.Code, appErrors.ErrPayoutFailed.Status,
		"payout failed, request remains approved and can be retried")
}

// PayoutStatus polls the gateway for a previously initiated payout and
// reconciles a processed payout that never made it to paid locally.
func (s *PayoutService) PayoutStatus(ctx context.Context, id string, actor models.AuthContext) (*dto.PayoutStatusResponse, error) {
	cashback, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if cashback.PayoutID == nil || *cashback.PayoutID == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no payout has been initiated for this request")
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	status, err := s.gateway.GetPayoutStatus(gatewayCtx, *cashback.PayoutID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPayoutFailed.Code, appErrors.ErrPayoutFailed.Status, "failed to fetch payout status")
	}

	if status.Status == "processed" && cashback.Status == models.CashbackStatusApproved {
		now := time.Now().UTC()
		amount := cashback.PayableAmount()
		method := "bank_transfer"
		err := s.repo.Transition(ctx, repository.TransitionParams{
			ID:            cashback.ID,
			FromStatus:    models.CashbackStatusApproved,
			ToStatus:      models.CashbackStatusPaid,
			PaidAt:        &now,
			PaidAmount:    &amount,
			PaymentStatus: models.PaymentStatusProcessed,
			PaymentMethod: &method,
			Entry: models.TimelineEntry{
				Status:    models.CashbackStatusPaid,
				Timestamp: now,
				Notes:     fmt.Sprintf("Payout %s confirmed processed on reconciliation", status.PayoutID),
				By:        actor.ActorID,
			},
		})
		if err != nil && !errors.Is(err, repository.ErrStateConflict) {
			s.logger.Warn("failed to reconcile processed payout", zap.String("id", cashback.ID), zap.Error(err))
		}
	}

	return &dto.PayoutStatusResponse{
		CashbackID: cashback.ID,
		PayoutID:   status.PayoutID,
		Status:     status.Status,
		Amount:     status.Amount,
	}, nil
}

func (s *PayoutService) loadOwned(ctx context.Context, id string, actor models.AuthContext) (*models.CashbackRequest, error) {
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

func (s *PayoutService) emitAudit(ctx context.Context, actor models.AuthContext, cashback *models.CashbackRequest, detail map[string]interface{}) {
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
		Action:     models.AuditActionPayoutAttempt,
		Resource:   "cashback_request",
		ResourceID: &cashback.ID,
		Detail:     payload,
	})
}
