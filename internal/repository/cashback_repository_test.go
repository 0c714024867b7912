package repository

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/cashstore/merchant-api/internal/models"
	appErrors "github.com/cashstore/merchant-api/pkg/errors"
)

func newCashbackRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func cashbackRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "request_number", "merchant_id", "customer_id", "order_id",
		"requested_amount", "approved_amount", "paid_amount", "order_amount",
		"status", "risk_score", "risk_factors", "flagged_for_review",
		"reviewed_by", "approval_notes", "rejection_reason",
		"payment_method", "payment_reference", "payout_id", "payment_status",
		"customer_bank_details", "timeline",
		"created_at", "updated_at", "expires_at", "reviewed_at", "paid_at",
	})
}

func addCashbackRow(rows *sqlmock.Rows, id, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(
		id, "CB250101000001ABC", "m-1", "c-1", "o-1",
		500.0, nil, nil, 1000.0,
		status, 20, `[]`, false,
		nil, nil, nil,
		nil, nil, nil, "pending",
		nil, `[]`,
		now, now, now.Add(7*24*time.Hour), nil, nil,
	)
}

func TestGenerateRequestNumberFormat(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	number := GenerateRequestNumber(now)

	require.True(t, strings.HasPrefix(number, "CB250314"))
	require.Len(t, number, 17)

	other := GenerateRequestNumber(now)
	require.NotEqual(t, number, other)
}

func TestGenerateRequestNumberSortsByCreationOrder(t *testing.T) {
	times := []time.Time{
		time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 14, 10, 16, 40, 0, time.UTC),
		time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 3, 15, 0, 0, 1, 0, time.UTC),
	}

	var previous string
	for _, ts := range times {
		number := GenerateRequestNumber(ts)
		// Compare date and second counter, excluding the random suffix.
		sortable := number[:14]
		if previous != "" {
			require.Greater(t, sortable, previous)
		}
		previous = sortable
	}
}

func TestCashbackRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newCashbackRepoMock(t)
	defer cleanup()

	repo := NewCashbackRepository(db, 0)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cashback_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.CashbackRequest{
		MerchantID:      "m-1",
		CustomerID:      "c-1",
		OrderID:         "o-1",
		RequestedAmount: 500,
		OrderAmount:     1000,
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	require.True(t, strings.HasPrefix(req.RequestNumber, "CB"))
	require.Equal(t, models.CashbackStatusPending, req.Status)
	require.Equal(t, req.CreatedAt.Add(7*24*time.Hour), req.ExpiresAt)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, request_number, merchant_id")).
		WithArgs(req.ID).
		WillReturnRows(addCashbackRow(cashbackRows(), req.ID, "pending"))

	found, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, found.ID)
	require.Equal(t, models.CashbackStatusPending, found.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCashbackRepositoryCreateExhaustedCollisions(t *testing.T) {
	db, mock, cleanup := newCashbackRepoMock(t)
	defer cleanup()

	repo := NewCashbackRepository(db, 0)
	collision := &pq.Error{Code: "23505", Constraint: "cashback_requests_request_number_key"}
	for i := 0; i < 3; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cashback_requests")).
			WillReturnError(collision)
	}

	err := repo.Create(context.Background(), &models.CashbackRequest{
		MerchantID:      "m-1",
		CustomerID:      "c-1",
		OrderID:         "o-1",
		RequestedAmount: 500,
		OrderAmount:     1000,
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrDuplicateRequest.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCashbackRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newCashbackRepoMock(t)
	defer cleanup()

	repo := NewCashbackRepository(db, 0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, request_number, merchant_id")).
		WithArgs("missing").
		WillReturnRows(cashbackRows())

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestCashbackRepositorySearchFilters(t *testing.T) {
	db, mock, cleanup := newCashbackRepoMock(t)
	defer cleanup()

	repo := NewCashbackRepository(db, 0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cashback_requests WHERE")).
		WithArgs("m-1", "pending", 70, 100).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, request_number, merchant_id")).
		WithArgs("m-1", "pending", 70, 100).
		WillReturnRows(addCashbackRow(cashbackRows(), "cb-1", "pending"))

	result, err := repo.Search(context.Background(), models.CashbackFilter{
		MerchantID: "m-1",
		Status:     models.CashbackStatusPending,
		RiskLevel:  "high",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)
	require.Len(t, result.Requests, 1)
	require.Equal(t, 1, result.Page)
	require.Equal(t, 20, result.Limit)
	require.False(t, result.HasNext)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCashbackRepositoryPendingCount(t *testing.T) {
	db, mock, cleanup := newCashbackRepoMock(t)
	defer cleanup()

	repo := NewCashbackRepository(db, 0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cashback_requests WHERE merchant_id = $1 AND status = 'pending'")).
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.PendingCount(context.Background(), "m-1")
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCashbackRepositoryTransition(t *testing.T) {
	db, mock, cleanup := newCashbackRepoMock(t)
	defer cleanup()

	repo := NewCashbackRepository(db, 0)
	// The full compiled statement, proving the jsonb cast survives
	// named-parameter compilation instead of degrading into a bind marker.
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE cashback_requests SET status = ?, timeline = timeline || CAST(? AS jsonb), updated_at = ?, "+
			"reviewed_by = ?, reviewed_at = ?, approved_amount = ? WHERE id = ? AND status = ?")).
		WithArgs("approved", sqlmock.AnyArg(), sqlmock.AnyArg(), "m-1", sqlmock.AnyArg(), 400.0, "cb-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	reviewer := "m-1"
	now := time.Now().UTC()
	amount := 400.0
	err := repo.Transition(context.Background(), TransitionParams{
		ID:             "cb-1",
		FromStatus:     models.CashbackStatusPending,
		ToStatus:       models.CashbackStatusApproved,
		ReviewedBy:     &reviewer,
		ReviewedAt:     &now,
		ApprovedAmount: &amount,
		Entry: models.TimelineEntry{
			Status:    models.CashbackStatusApproved,
			Timestamp: now,
			By:        reviewer,
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCashbackRepositoryTransitionConflict(t *testing.T) {
	db, mock, cleanup := newCashbackRepoMock(t)
	defer cleanup()

	repo := NewCashbackRepository(db, 0)
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE cashback_requests SET status = ?, timeline = timeline || CAST(? AS jsonb), updated_at = ? "+
			"WHERE id = ? AND status = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Transition(context.Background(), TransitionParams{
		ID:         "cb-1",
		FromStatus: models.CashbackStatusPending,
		ToStatus:   models.CashbackStatusRejected,
		Entry: models.TimelineEntry{
			Status:    models.CashbackStatusRejected,
			Timestamp: time.Now().UTC(),
		},
	})
	require.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
