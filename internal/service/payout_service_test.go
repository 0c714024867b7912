package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cashstore/merchant-api/internal/dto"
	"github.com/cashstore/merchant-api/internal/models"
	"github.com/cashstore/merchant-api/pkg/payment"
)

type gatewayStub struct {
	result    *payment.PayoutResult
	err       error
	status    *payment.PayoutStatus
	statusErr error
	calls     int
}

func (g *gatewayStub) CreatePayout(ctx context.Context, req payment.PayoutRequest) (*payment.PayoutResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *gatewayStub) GetPayoutStatus(ctx context.Context, payoutID string) (*payment.PayoutStatus, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.status, nil
}

func seedApproved(repo *cashbackRepoStub, id string) *models.CashbackRequest {
	req := seedPending(repo, id)
	req.Status = models.CashbackStatusApproved
	req.CustomerBankDetails = &models.BankDetails{
		AccountNumber:     "1234567890",
		IFSCCode:          "HDFC0001234",
		AccountHolderName: "Jane Customer",
	}
	return req
}

func TestPayoutServiceProcessPayoutSuccess(t *testing.T) {
	repo := newCashbackRepoStub()
	seedApproved(repo, "cb-1")
	gateway := &gatewayStub{result: &payment.PayoutResult{PayoutID: "pout_1", Status: "processing", Amount: 500}}
	svc := NewPayoutService(repo, gateway, &auditSinkStub{}, nil)

	cashback, err := svc.ProcessPayout(context.Background(), "cb-1", dto.ProcessPaymentRequest{}, merchantActor())

	require.NoError(t, err)
	require.Equal(t, models.CashbackStatusPaid, cashback.Status)
	require.NotNil(t, cashback.PayoutID)
	require.Equal(t, "pout_1", *cashback.PayoutID)
	require.NotNil(t, cashback.PaidAmount)
	require.Equal(t, 500.0, *cashback.PaidAmount)
}

func TestPayoutServiceFailureKeepsApproval(t *testing.T) {
	repo := newCashbackRepoStub()
	seedApproved(repo, "cb-1")
	gateway := &gatewayStub{err: errors.New("insufficient balance")}
	svc := NewPayoutService(repo, gateway, &auditSinkStub{}, nil)

	cashback, err := svc.ProcessPayout(context.Background(), "cb-1", dto.ProcessPaymentRequest{}, merchantActor())

	require.Error(t, err)
	require.NotNil(t, cashback, "caller needs the approved request to report partial success")
	require.Equal(t, models.CashbackStatusApproved, cashback.Status)
	stored := repo.requests["cb-1"]
	require.Equal(t, models.CashbackStatusApproved, stored.Status, "payment failure must never revert approval")
	require.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	require.Nil(t, stored.PaidAt)
}

func TestPayoutServiceTimeoutMarksProcessing(t *testing.T) {
	repo := newCashbackRepoStub()
	seedApproved(repo, "cb-1")
	gateway := &gatewayStub{err: context.DeadlineExceeded}
	svc := NewPayoutService(repo, gateway, &auditSinkStub{}, nil)

	_, err := svc.ProcessPayout(context.Background(), "cb-1", dto.ProcessPaymentRequest{}, merchantActor())

	require.Error(t, err)
	stored := repo.requests["cb-1"]
	require.Equal(t, models.CashbackStatusApproved, stored.Status)
	require.Equal(t, models.PaymentStatusProcessing, stored.PaymentStatus)
}

func TestPayoutServiceRequiresApprovedStatus(t *testing.T) {
	repo := newCashbackRepoStub()
	seedPending(repo, "cb-1")
	gateway := &gatewayStub{}
	svc := NewPayoutService(repo, gateway, nil, nil)

	_, err := svc.ProcessPayout(context.Background(), "cb-1", dto.ProcessPaymentRequest{}, merchantActor())

	require.Error(t, err)
	require.Zero(t, gateway.calls, "gateway must not be called for non-approved requests")
}

func TestPayoutServiceRequiresBankDetails(t *testing.T) {
	repo := newCashbackRepoStub()
	req := seedPending(repo, "cb-1")
	req.Status = models.CashbackStatusApproved
	gateway := &gatewayStub{}
	svc := NewPayoutService(repo, gateway, nil, nil)

	_, err := svc.ProcessPayout(context.Background(), "cb-1", dto.ProcessPaymentRequest{}, merchantActor())

	require.Error(t, err)
	require.Zero(t, gateway.calls)
}

func TestPayoutServiceInlineBankDetails(t *testing.T) {
	repo := newCashbackRepoStub()
	req := seedPending(repo, "cb-1")
	req.Status = models.CashbackStatusApproved
	gateway := &gatewayStub{result: &payment.PayoutResult{PayoutID: "pout_2", Status: "processing"}}
	svc := NewPayoutService(repo, gateway, &auditSinkStub{}, nil)

	cashback, err := svc.ProcessPayout(context.Background(), "cb-1", dto.ProcessPaymentRequest{
		BankDetails: &models.BankDetails{
			AccountNumber:     "9876543210",
			IFSCCode:          "ICIC0004321",
			AccountHolderName: "John Customer",
		},
	}, merchantActor())

	require.NoError(t, err)
	require.Equal(t, models.CashbackStatusPaid, cashback.Status)
	require.Equal(t, 1, gateway.calls)
}

func TestPayoutServiceStatusReconciliation(t *testing.T) {
	repo := newCashbackRepoStub()
	req := seedApproved(repo, "cb-1")
	payoutID := "pout_3"
	req.PayoutID = &payoutID
	gateway := &gatewayStub{status: &payment.PayoutStatus{PayoutID: payoutID, Status: "processed", Amount: 500}}
	svc := NewPayoutService(repo, gateway, &auditSinkStub{}, nil)

	status, err := svc.PayoutStatus(context.Background(), "cb-1", merchantActor())

	require.NoError(t, err)
	require.Equal(t, "processed", status.Status)
	require.Equal(t, models.CashbackStatusPaid, repo.requests["cb-1"].Status, "processed payout must reconcile to paid")
}

func TestPayoutServiceStatusWithoutPayout(t *testing.T) {
	repo := newCashbackRepoStub()
	seedApproved(repo, "cb-1")
	svc := NewPayoutService(repo, &gatewayStub{}, nil, nil)

	_, err := svc.PayoutStatus(context.Background(), "cb-1", merchantActor())

	require.Error(t, err)
}
