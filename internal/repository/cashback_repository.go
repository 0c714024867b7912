package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cashstore/merchant-api/internal/models"
	appErrors "github.com/cashstore/merchant-api/pkg/errors"
)

// ErrStateConflict is returned when a conditional transition update matched no
// row, meaning the request was not in the expected status.
var ErrStateConflict = errors.New("cashback request not in expected status")

const cashbackColumns = `id, request_number, merchant_id, customer_id, order_id,
	requested_amount, approved_amount, paid_amount, order_amount,
	status, risk_score, risk_factors, flagged_for_review,
	reviewed_by, approval_notes, rejection_reason,
	payment_method, payment_reference, payout_id, payment_status,
	customer_bank_details, timeline,
	created_at, updated_at, expires_at, reviewed_at, paid_at`

// requestNumberAlphabet feeds the random suffix of generated request numbers.
const requestNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CashbackRepository persists cashback workflow data.
type CashbackRepository struct {
	db       *sqlx.DB
	validity time.Duration
}

// NewCashbackRepository constructs the repository. validity is the window
// after which an unreviewed request expires.
func NewCashbackRepository(db *sqlx.DB, validity time.Duration) *CashbackRepository {
	if validity <= 0 {
		validity = 7 * 24 * time.Hour
	}
	return &CashbackRepository{db: db, validity: validity}
}

// GenerateRequestNumber builds a unique, monotonically sortable identifier:
// CB + yymmdd + seconds-since-midnight tail + random suffix. The date and
// second counter keep lexical order aligned with creation order; the suffix
// disambiguates requests created within the same second.
func GenerateRequestNumber(now time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err == nil {
		for i := range buf {
			buf[i] = requestNumberAlphabet[int(buf[i])%len(requestNumberAlphabet)]
		}
	} else {
		copy(buf, "XXX")
	}
	utc := now.UTC()
	seconds := utc.Hour()*3600 + utc.Minute()*60 + utc.Second()
	return fmt.Sprintf("CB%s%06d%s", utc.Format("060102"), seconds, string(buf))
}

// Create inserts a new request row. The request number is regenerated on the
// astronomically unlikely unique-constraint collision.
func (r *CashbackRepository) Create(ctx context.Context, req *models.CashbackRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = req.CreatedAt.Add(r.validity)
	}
	if req.Status == "" {
		req.Status = models.CashbackStatusPending
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = models.PaymentStatusPending
	}

	const query = `INSERT INTO cashback_requests
	(id, request_number, merchant_id, customer_id, order_id,
	 requested_amount, approved_amount, paid_amount, order_amount,
	 status, risk_score, risk_factors, flagged_for_review,
	 reviewed_by, approval_notes, rejection_reason,
	 payment_method, payment_reference, payout_id, payment_status,
	 customer_bank_details, timeline,
	 created_at, updated_at, expires_at, reviewed_at, paid_at)
	VALUES (:id, :request_number, :merchant_id, :customer_id, :order_id,
	 :requested_amount, :approved_amount, :paid_amount, :order_amount,
	 :status, :risk_score, :risk_factors, :flagged_for_review,
	 :reviewed_by, :approval_notes, :rejection_reason,
	 :payment_method, :payment_reference, :payout_id, :payment_status,
	 :customer_bank_details, :timeline,
	 :created_at, :updated_at, :expires_at, :reviewed_at, :paid_at)`

	for attempt := 0; attempt < 3; attempt++ {
		if req.RequestNumber == "" {
			req.RequestNumber = GenerateRequestNumber(time.Now().UTC())
		}
		_, err := r.db.NamedExecContext(ctx, query, req)
		if err == nil {
			return nil
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "request_number") {
			req.RequestNumber = ""
			continue
		}
		return fmt.Errorf("create cashback request: %w", err)
	}
	return appErrors.Clone(appErrors.ErrDuplicateRequest, "request number collisions exhausted retries")
}

// GetByID fetches a request by identifier. Returns sql.ErrNoRows when absent.
func (r *CashbackRepository) GetByID(ctx context.Context, id string) (*models.CashbackRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM cashback_requests WHERE id = $1`, cashbackColumns)
	var req models.CashbackRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

var searchSortColumns = map[string]string{
	"created":    "created_at",
	"amount":     "requested_amount",
	"risk_score": "risk_score",
	"expires":    "expires_at",
}

// Search returns a filtered, sorted, paginated result page with a total count.
func (r *CashbackRepository) Search(ctx context.Context, filter models.CashbackFilter) (*models.CashbackSearchResult, error) {
	conditions := []string{"merchant_id = $1"}
	args := []interface{}{filter.MerchantID}

	appendCond := func(expr string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if filter.Status != "" {
		appendCond("status = $%d", filter.Status)
	}
	if filter.CustomerID != "" {
		appendCond("customer_id = $%d", filter.CustomerID)
	}
	if filter.StartDate != nil {
		appendCond("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		appendCond("created_at <= $%d", *filter.EndDate)
	}
	if filter.MinAmount != nil {
		appendCond("requested_amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		appendCond("requested_amount <= $%d", *filter.MaxAmount)
	}
	if min, max, ok := models.RiskBucketBounds(filter.RiskLevel); ok {
		appendCond("risk_score >= $%d", min)
		appendCond("risk_score <= $%d", max)
	}
	if filter.FlaggedOnly {
		conditions = append(conditions, "flagged_for_review = TRUE")
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM cashback_requests WHERE %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count cashback requests: %w", err)
	}

	sortColumn, ok := searchSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf("SELECT %s FROM cashback_requests WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d",
		cashbackColumns, where, sortColumn, direction, limit, offset)

	requests := make([]models.CashbackRequest, 0, limit)
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("search cashback requests: %w", err)
	}

	return &models.CashbackSearchResult{
		Requests:    requests,
		TotalCount:  total,
		Page:        page,
		Limit:       limit,
		HasNext:     offset+limit < total,
		HasPrevious: page > 1,
	}, nil
}

// Metrics aggregates per-status counts and amounts for a merchant.
func (r *CashbackRepository) Metrics(ctx context.Context, merchantID string) (*models.CashbackMetrics, error) {
	const query = `SELECT
		COUNT(*) AS total_requests,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending_count,
		COUNT(*) FILTER (WHERE status = 'approved') AS approved_count,
		COUNT(*) FILTER (WHERE status = 'rejected') AS rejected_count,
		COUNT(*) FILTER (WHERE status = 'paid') AS paid_count,
		COUNT(*) FILTER (WHERE flagged_for_review OR risk_score >= 70) AS flagged_count,
		COALESCE(SUM(requested_amount) FILTER (WHERE status = 'pending'), 0) AS pending_amount,
		COALESCE(SUM(COALESCE(approved_amount, requested_amount)) FILTER (WHERE status IN ('approved','paid')), 0) AS approved_amount,
		COALESCE(SUM(COALESCE(approved_amount, requested_amount)) FILTER (WHERE status = 'paid'), 0) AS paid_amount,
		COALESCE(SUM(requested_amount), 0) AS requested_amount
	FROM cashback_requests WHERE merchant_id = $1`

	var metrics models.CashbackMetrics
	if err := r.db.GetContext(ctx, &metrics, query, merchantID); err != nil {
		return nil, fmt.Errorf("cashback metrics: %w", err)
	}
	return &metrics, nil
}

// PendingCount returns the number of requests awaiting review.
func (r *CashbackRepository) PendingCount(ctx context.Context, merchantID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM cashback_requests WHERE merchant_id = $1 AND status = 'pending'`
	if err := r.db.GetContext(ctx, &count, query, merchantID); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}

// MonthlyTrends buckets requests per calendar month over the trailing window.
func (r *CashbackRepository) MonthlyTrends(ctx context.Context, merchantID string, months int) ([]models.MonthlyTrend, error) {
	if months <= 0 {
		months = 6
	}
	const query = `SELECT
		to_char(date_trunc('month', created_at), 'YYYY-MM') AS month,
		COUNT(*) AS request_count,
		COALESCE(SUM(COALESCE(approved_amount, requested_amount)) FILTER (WHERE status = 'paid'), 0) AS paid_amount,
		COUNT(*) FILTER (WHERE flagged_for_review) AS flagged_count
	FROM cashback_requests
	WHERE merchant_id = $1 AND created_at >= date_trunc('month', NOW()) - ($2 - 1) * INTERVAL '1 month'
	GROUP BY 1 ORDER BY 1`

	var trends []models.MonthlyTrend
	if err := r.db.SelectContext(ctx, &trends, query, merchantID, months); err != nil {
		return nil, fmt.Errorf("monthly trends: %w", err)
	}
	return trends, nil
}

// TopCustomers ranks customers by paid cashback.
func (r *CashbackRepository) TopCustomers(ctx context.Context, merchantID string, limit int) ([]models.TopCustomer, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT customer_id,
		SUM(COALESCE(approved_amount, requested_amount)) AS total_cashback,
		COUNT(*) AS request_count
	FROM cashback_requests
	WHERE merchant_id = $1 AND status = 'paid'
	GROUP BY customer_id ORDER BY total_cashback DESC LIMIT $2`

	var customers []models.TopCustomer
	if err := r.db.SelectContext(ctx, &customers, query, merchantID, limit); err != nil {
		return nil, fmt.Errorf("top customers: %w", err)
	}
	return customers, nil
}

// analyticsRow backs the summary aggregate for Analytics.
type analyticsRow struct {
	TotalRequests   int     `db:"total_requests"`
	PendingCount    int     `db:"pending_count"`
	ApprovedOrPaid  int     `db:"approved_or_paid"`
	FlaggedCount    int     `db:"flagged_count"`
	LowRisk         int     `db:"low_risk"`
	MediumRisk      int     `db:"medium_risk"`
	HighRisk        int     `db:"high_risk"`
	PaidAmount      float64 `db:"paid_amount"`
	AvgReviewHours  float64 `db:"avg_review_hours"`
}

// Analytics computes the summary aggregates for the analytics endpoint.
func (r *CashbackRepository) Analytics(ctx context.Context, merchantID string, start, end *time.Time) (*models.CashbackAnalytics, error) {
	conditions := []string{"merchant_id = $1"}
	args := []interface{}{merchantID}
	if start != nil {
		args = append(args, *start)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if end != nil {
		args = append(args, *end)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total_requests,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending_count,
		COUNT(*) FILTER (WHERE status IN ('approved','paid')) AS approved_or_paid,
		COUNT(*) FILTER (WHERE flagged_for_review) AS flagged_count,
		COUNT(*) FILTER (WHERE risk_score < 30) AS low_risk,
		COUNT(*) FILTER (WHERE risk_score BETWEEN 30 AND 69) AS medium_risk,
		COUNT(*) FILTER (WHERE risk_score >= 70) AS high_risk,
		COALESCE(SUM(COALESCE(approved_amount, requested_amount)) FILTER (WHERE status = 'paid'), 0) AS paid_amount,
		COALESCE(AVG(EXTRACT(EPOCH FROM reviewed_at - created_at) / 3600) FILTER (WHERE reviewed_at IS NOT NULL), 0) AS avg_review_hours
	FROM cashback_requests WHERE %s`, where)

	var row analyticsRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, fmt.Errorf("cashback analytics: %w", err)
	}

	analytics := &models.CashbackAnalytics{
		TotalPaid:          row.PaidAmount,
		TotalPending:       row.PendingCount,
		AvgProcessingHours: row.AvgReviewHours,
		RiskDistribution: map[string]int{
			models.RiskLevelLow:    row.LowRisk,
			models.RiskLevelMedium: row.MediumRisk,
			models.RiskLevelHigh:   row.HighRisk,
		},
	}
	if row.TotalRequests > 0 {
		analytics.ApprovalRate = float64(row.ApprovedOrPaid) / float64(row.TotalRequests) * 100
		analytics.FraudDetectionRate = float64(row.FlaggedCount) / float64(row.TotalRequests) * 100
	}

	trends, err := r.MonthlyTrends(ctx, merchantID, 6)
	if err != nil {
		return nil, err
	}
	analytics.MonthlyTrends = trends

	customers, err := r.TopCustomers(ctx, merchantID, 10)
	if err != nil {
		return nil, err
	}
	analytics.TopCustomers = customers

	return analytics, nil
}

// riskContextRow backs RiskContextFor.
type riskContextRow struct {
	MerchantAvgAmount   float64 `db:"merchant_avg_amount"`
	RecentRequestCount  int     `db:"recent_request_count"`
	PriorApprovedCount  int     `db:"prior_approved_count"`
	DuplicateOrderCount int     `db:"duplicate_order_count"`
}

// RiskContextFor gathers the historical aggregates consumed by the risk
// engine. Fetched once per intake so the scoring rules stay pure.
func (r *CashbackRepository) RiskContextFor(ctx context.Context, merchantID, customerID, orderID string) (models.RiskContext, error) {
	const query = `SELECT
		COALESCE((SELECT AVG(requested_amount) FROM cashback_requests WHERE merchant_id = $1), 0) AS merchant_avg_amount,
		(SELECT COUNT(*) FROM cashback_requests WHERE customer_id = $2 AND created_at >= NOW() - INTERVAL '24 hours') AS recent_request_count,
		(SELECT COUNT(*) FROM cashback_requests WHERE customer_id = $2 AND status IN ('approved','paid')) AS prior_approved_count,
		(SELECT COUNT(*) FROM cashback_requests WHERE order_id = $3) AS duplicate_order_count`

	var row riskContextRow
	if err := r.db.GetContext(ctx, &row, query, merchantID, customerID, orderID); err != nil {
		return models.RiskContext{}, fmt.Errorf("risk context: %w", err)
	}
	return models.RiskContext{
		MerchantAvgAmount:   row.MerchantAvgAmount,
		RecentRequestCount:  row.RecentRequestCount,
		PriorApprovedCount:  row.PriorApprovedCount,
		DuplicateOrderCount: row.DuplicateOrderCount,
	}, nil
}

// TransitionParams groups mutable columns for a guarded status transition.
// FromStatus is the expected current status; the update is a single
// compare-and-swap so two concurrent transitions cannot both succeed.
type TransitionParams struct {
	ID         string
	FromStatus models.CashbackStatus
	ToStatus   models.CashbackStatus
	Entry      models.TimelineEntry

	ReviewedBy      *string
	ReviewedAt      *time.Time
	ApprovedAmount  *float64
	ApprovalNotes   *string
	RejectionReason *string

	PaidAt           *time.Time
	PaidAmount       *float64
	PayoutID         *string
	PaymentStatus    models.PaymentStatus
	PaymentMethod    *string
	PaymentReference *string
	BankDetails      *models.BankDetails
}

// Transition atomically applies the state change and appends the timeline
// entry, guarded on the expected current status. Returns ErrStateConflict
// when the row was not in FromStatus (or does not exist).
func (r *CashbackRepository) Transition(ctx context.Context, params TransitionParams) error {
	entryJSON, err := json.Marshal([]models.TimelineEntry{params.Entry})
	if err != nil {
		return fmt.Errorf("marshal timeline entry: %w", err)
	}

	setParts := []string{
		"status = :to_status",
		// CAST(... AS jsonb) rather than a :: cast, which the named-query
		// compiler would mangle into a bind parameter.
		"timeline = timeline || CAST(:entry AS jsonb)",
		"updated_at = :updated_at",
	}
	args := map[string]interface{}{
		"id":          params.ID,
		"from_status": params.FromStatus,
		"to_status":   params.ToStatus,
		"entry":       string(entryJSON),
		"updated_at":  time.Now().UTC(),
	}

	setOpt := func(clause, key string, value interface{}) {
		setParts = append(setParts, clause)
		args[key] = value
	}

	if params.ReviewedBy != nil {
		setOpt("reviewed_by = :reviewed_by", "reviewed_by", params.ReviewedBy)
	}
	if params.ReviewedAt != nil {
		setOpt("reviewed_at = :reviewed_at", "reviewed_at", params.ReviewedAt)
	}
	if params.ApprovedAmount != nil {
		setOpt("approved_amount = :approved_amount", "approved_amount", params.ApprovedAmount)
	}
	if params.ApprovalNotes != nil {
		setOpt("approval_notes = :approval_notes", "approval_notes", params.ApprovalNotes)
	}
	if params.RejectionReason != nil {
		setOpt("rejection_reason = :rejection_reason", "rejection_reason", params.RejectionReason)
	}
	if params.PaidAt != nil {
		setOpt("paid_at = :paid_at", "paid_at", params.PaidAt)
	}
	if params.PaidAmount != nil {
		setOpt("paid_amount = :paid_amount", "paid_amount", params.PaidAmount)
	}
	if params.PayoutID != nil {
		setOpt("payout_id = :payout_id", "payout_id", params.PayoutID)
	}
	if params.PaymentStatus != "" {
		setOpt("payment_status = :payment_status", "payment_status", params.PaymentStatus)
	}
	if params.PaymentMethod != nil {
		setOpt("payment_method = :payment_method", "payment_method", params.PaymentMethod)
	}
	if params.PaymentReference != nil {
		setOpt("payment_reference = :payment_reference", "payment_reference", params.PaymentReference)
	}
	if params.BankDetails != nil {
		bankJSON, err := json.Marshal(params.BankDetails)
		if err != nil {
			return fmt.Errorf("marshal bank details: %w", err)
		}
		setOpt("customer_bank_details = CAST(:customer_bank_details AS jsonb)", "customer_bank_details", string(bankJSON))
	}

	query := fmt.Sprintf("UPDATE cashback_requests SET %s WHERE id = :id AND status = :from_status",
		strings.Join(setParts, ", "))

	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("transition cashback request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition cashback request: %w", err)
	}
	if affected == 0 {
		return ErrStateConflict
	}
	return nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
