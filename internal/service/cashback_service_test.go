package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cashstore/merchant-api/internal/dto"
	"github.com/cashstore/merchant-api/internal/models"
	"github.com/cashstore/merchant-api/internal/repository"
)

type cashbackRepoStub struct {
	requests    map[string]*models.CashbackRequest
	riskContext models.RiskContext
	transitions []repository.TransitionParams
}

func newCashbackRepoStub() *cashbackRepoStub {
	return &cashbackRepoStub{requests: make(map[string]*models.CashbackRequest)}
}

func (s *cashbackRepoStub) Create(ctx context.Context, req *models.CashbackRequest) error {
	if req.ID == "" {
		req.ID = "cb-" + req.CustomerID
	}
	if req.RequestNumber == "" {
		req.RequestNumber = "CB250101000001ABC"
	}
	s.requests[req.ID] = req
	return nil
}

func (s *cashbackRepoStub) GetByID(ctx context.Context, id string) (*models.CashbackRequest, error) {
	if req, ok := s.requests[id]; ok {
		copy := *req
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *cashbackRepoStub) Search(ctx context.Context, filter models.CashbackFilter) (*models.CashbackSearchResult, error) {
	result := &models.CashbackSearchResult{Page: filter.Page, Limit: filter.Limit}
	for _, req := range s.requests {
		if filter.MerchantID != "" && req.MerchantID != filter.MerchantID {
			continue
		}
		result.Requests = append(result.Requests, *req)
	}
	result.TotalCount = len(result.Requests)
	return result, nil
}

func (s *cashbackRepoStub) Metrics(ctx context.Context, merchantID string) (*models.CashbackMetrics, error) {
	return &models.CashbackMetrics{TotalRequests: len(s.requests)}, nil
}

func (s *cashbackRepoStub) PendingCount(ctx context.Context, merchantID string) (int, error) {
	count := 0
	for _, req := range s.requests {
		if req.MerchantID == merchantID && req.Status == models.CashbackStatusPending {
			count++
		}
	}
	return count, nil
}

func (s *cashbackRepoStub) Analytics(ctx context.Context, merchantID string, start, end *time.Time) (*models.CashbackAnalytics, error) {
	return &models.CashbackAnalytics{}, nil
}

func (s *cashbackRepoStub) RiskContextFor(ctx context.Context, merchantID, customerID, orderID string) (models.RiskContext, error) {
	return s.riskContext, nil
}

func (s *cashbackRepoStub) Transition(ctx context.Context, params repository.TransitionParams) error {
	req, ok := s.requests[params.ID]
	if !ok || req.Status != params.FromStatus {
		return repository.ErrStateConflict
	}
	s.transitions = append(s.transitions, params)
	req.Status = params.ToStatus
	req.Timeline = append(req.Timeline, params.Entry)
	if params.ReviewedBy != nil {
		req.ReviewedBy = params.ReviewedBy
	}
	if params.ReviewedAt != nil {
		req.ReviewedAt = params.ReviewedAt
	}
	if params.ApprovedAmount != nil {
		req.ApprovedAmount = params.ApprovedAmount
	}
	if params.RejectionReason != nil {
		req.RejectionReason = params.RejectionReason
	}
	if params.PaidAt != nil {
		req.PaidAt = params.PaidAt
	}
	if params.PaidAmount != nil {
		req.PaidAmount = params.PaidAmount
	}
	if params.PayoutID != nil {
		req.PayoutID = params.PayoutID
	}
	if params.PaymentStatus != "" {
		req.PaymentStatus = params.PaymentStatus
	}
	return nil
}

type auditSinkStub struct {
	logs []*models.AuditLog
}

func (a *auditSinkStub) Record(ctx context.Context, log *models.AuditLog) {
	a.logs = append(a.logs, log)
}

func merchantActor() models.AuthContext {
	return models.AuthContext{MerchantID: "m-1", ActorID: "m-1", Role: models.RoleMerchant}
}

func seedPending(repo *cashbackRepoStub, id string) *models.CashbackRequest {
	req := &models.CashbackRequest{
		ID:              id,
		RequestNumber:   "CB250101000001" + id,
		MerchantID:      "m-1",
		CustomerID:      "c-1",
		OrderID:         "o-" + id,
		RequestedAmount: 500,
		OrderAmount:     1000,
		Status:          models.CashbackStatusPending,
	}
	repo.requests[id] = req
	return req
}

func TestCashbackServiceCreateAssessesRisk(t *testing.T) {
	repo := newCashbackRepoStub()
	repo.riskContext = models.RiskContext{MerchantAvgAmount: 200, PriorApprovedCount: 3}
	audit := &auditSinkStub{}
	svc := NewCashbackService(repo, audit, nil)

	cashback, err := svc.Create(context.Background(), dto.CreateCashbackRequest{
		CustomerID:         "c-1",
		OrderID:            "o-1",
		RequestedAmount:    5000,
		OrderAmount:        5500,
		CustomerAccountAge: 400,
		CustomerVerified:   true,
	}, merchantActor())

	require.NoError(t, err)
	require.Equal(t, models.CashbackStatusPending, cashback.Status)
	require.True(t, cashback.FlaggedForReview)
	require.NotZero(t, cashback.RiskScore)
	require.Len(t, cashback.Timeline, 1)
	require.Len(t, audit.logs, 1)
}

func TestCashbackServiceCreateRejectsAmountOverOrder(t *testing.T) {
	svc := NewCashbackService(newCashbackRepoStub(), nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateCashbackRequest{
		CustomerID:      "c-1",
		OrderID:         "o-1",
		RequestedAmount: 1200,
		OrderAmount:     1000,
	}, merchantActor())

	require.Error(t, err)
}

func TestCashbackServiceApprove(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	svc := NewCashbackService(repo, &auditSinkStub{}, nil)

	cashback, err := svc.Approve(context.Background(), "cb-1", dto.ApproveCashbackRequest{
		ApprovedAmount: 400,
		Notes:          "partial",
	}, merchantActor())

	require.NoError(t, err)
	require.Equal(t, models.CashbackStatusApproved, cashback.Status)
	require.NotNil(t, cashback.ApprovedAmount)
	require.Equal(t, 400.0, *cashback.ApprovedAmount)
	require.Len(t, cashback.Timeline, 1)
}

func TestCashbackServiceApproveRejectsAmountOverRequested(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	svc := NewCashbackService(repo, nil, nil)

	_, err := svc.Approve(context.Background(), "cb-1", dto.ApproveCashbackRequest{
		ApprovedAmount: 600,
	}, merchantActor())

	require.Error(t, err)
	require.Empty(t, repo.transitions)
}

func TestCashbackServiceApproveAlreadyReviewed(t *testing.T) {
	repo := newCashbackRepoStub()
	req := seedPending(repo, "cb-1")
	req.Status = models.CashbackStatusRejected
	svc := NewCashbackService(repo, nil, nil)

	_, err := svc.Approve(context.Background(), "cb-1", dto.ApproveCashbackRequest{
		ApprovedAmount: 100,
	}, merchantActor())

	require.Error(t, err)
	require.Equal(t, models.CashbackStatusRejected, repo.requests["cb-1"].Status)
}

func TestCashbackServiceRejectRequiresReason(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	svc := NewCashbackService(repo, nil, nil)

	_, err := svc.Reject(context.Background(), "cb-1", dto.RejectCashbackRequest{Reason: "   "}, merchantActor())

	require.Error(t, err)
	require.Equal(t, models.CashbackStatusPending, repo.requests["cb-1"].Status)
}

func TestCashbackServiceRejectRecordsReason(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	svc := NewCashbackService(repo, &auditSinkStub{}, nil)

	cashback, err := svc.Reject(context.Background(), "cb-1", dto.RejectCashbackRequest{Reason: "suspicious order"}, merchantActor())

	require.NoError(t, err)
	require.Equal(t, models.CashbackStatusRejected, cashback.Status)
	require.NotNil(t, cashback.RejectionReason)
	require.Equal(t, "suspicious order", *cashback.RejectionReason)
}

func TestCashbackServiceMarkPaidRequiresApproved(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	svc := NewCashbackService(repo, nil, nil)

	_, err := svc.MarkAsPaid(context.Background(), "cb-1", dto.MarkPaidRequest{
		PaymentMethod:    "bank_transfer",
		PaymentReference: "ref-1",
	}, merchantActor())

	require.Error(t, err)
	require.Equal(t, models.CashbackStatusPending, repo.requests["cb-1"].Status)
}

func TestCashbackServiceMarkPaidUsesApprovedAmount(t *testing.T) {
	repo := newCashbackRepoStub()
	req := seedPending(repo, "cb-1")
	req.Status = models.CashbackStatusApproved
	approved := 350.0
	req.ApprovedAmount = &approved
	svc := NewCashbackService(repo, &auditSinkStub{}, nil)

	cashback, err := svc.MarkAsPaid(context.Background(), "cb-1", dto.MarkPaidRequest{
		PaymentMethod:    "wallet",
		PaymentReference: "ref-1",
	}, merchantActor())

	require.NoError(t, err)
	require.Equal(t, models.CashbackStatusPaid, cashback.Status)
	require.NotNil(t, cashback.PaidAmount)
	require.Equal(t, 350.0, *cashback.PaidAmount)
}

func TestCashbackServiceOwnershipEnforced(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	svc := NewCashbackService(repo, nil, nil)
	other := models.AuthContext{MerchantID: "m-2", ActorID: "m-2", Role: models.RoleMerchant}

	_, err := svc.Get(context.Background(), "cb-1", other)
	require.Error(t, err)

	_, err = svc.Approve(context.Background(), "cb-1", dto.ApproveCashbackRequest{ApprovedAmount: 100}, other)
	require.Error(t, err)
	require.Equal(t, models.CashbackStatusPending, repo.requests["cb-1"].Status)
}

func TestCashbackServiceBulkActionPartialFailure(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	paid := seedPending(repo, "cb-2")
	paid.Status = models.CashbackStatusPaid
	svc := NewCashbackService(repo, &auditSinkStub{}, nil)

	result, err := svc.BulkAction(context.Background(), dto.BulkActionRequest{
		RequestIDs: []string{"cb-1", "cb-2", "missing"},
		Action:     "approve",
	}, merchantActor())

	require.NoError(t, err)
	require.Equal(t, 3, result.Summary.Total)
	require.Equal(t, 1, result.Summary.Successful)
	require.Equal(t, 2, result.Summary.Failed)
	require.True(t, result.Results[0].Success)
	require.False(t, result.Results[1].Success)
	require.False(t, result.Results[2].Success)
	require.Equal(t, models.CashbackStatusApproved, repo.requests["cb-1"].Status)
	require.Equal(t, models.CashbackStatusPaid, repo.requests["cb-2"].Status)
}

func TestCashbackServiceBulkRejectRequiresReason(t *testing.T) {
	svc := NewCashbackService(newCashbackRepoStub(), nil, nil)

	_, err := svc.BulkAction(context.Background(), dto.BulkActionRequest{
		RequestIDs: []string{"cb-1"},
		Action:     "reject",
	}, merchantActor())

	require.Error(t, err)
}

type countCacheStub struct {
	values  map[string]int
	deleted []string
	lastTTL time.Duration
}

func (c *countCacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	if v, ok := c.values[key]; ok {
		*(dest.(*int)) = v
		return nil
	}
	return sql.ErrNoRows
}

func (c *countCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.values[key] = value.(int)
	c.lastTTL = ttl
	return nil
}

func (c *countCacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	c.deleted = append(c.deleted, pattern)
	delete(c.values, pattern)
	return nil
}

func TestCashbackServicePendingCountCaching(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	seedPending(repo, "cb-2")
	cache := &countCacheStub{values: make(map[string]int)}
	svc := NewCashbackService(repo, &auditSinkStub{}, nil, WithCountCache(cache))

	first, err := svc.PendingCount(context.Background(), merchantActor())
	require.NoError(t, err)
	require.Equal(t, 2, first.Count)
	require.False(t, first.Cached)

	second, err := svc.PendingCount(context.Background(), merchantActor())
	require.NoError(t, err)
	require.Equal(t, 2, second.Count)
	require.True(t, second.Cached)

	// An approval invalidates the cached counter.
	_, err = svc.Approve(context.Background(), "cb-1", dto.ApproveCashbackRequest{ApprovedAmount: 500}, merchantActor())
	require.NoError(t, err)
	require.NotEmpty(t, cache.deleted)

	third, err := svc.PendingCount(context.Background(), merchantActor())
	require.NoError(t, err)
	require.Equal(t, 1, third.Count)
	require.False(t, third.Cached)
}

func TestCashbackServicePendingCountTTL(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")

	cache := &countCacheStub{values: make(map[string]int)}
	svc := NewCashbackService(repo, &auditSinkStub{}, nil, WithCountCache(cache))
	_, err := svc.PendingCount(context.Background(), merchantActor())
	require.NoError(t, err)
	require.Equal(t, defaultPendingCountTTL, cache.lastTTL)

	cache = &countCacheStub{values: make(map[string]int)}
	svc = NewCashbackService(repo, &auditSinkStub{}, nil,
		WithCountCache(cache),
		WithPendingCountTTL(90*time.Second),
	)
	_, err = svc.PendingCount(context.Background(), merchantActor())
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cache.lastTTL)
}
