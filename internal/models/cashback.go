package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CashbackStatus captures workflow states for cashback requests.
type CashbackStatus string

const (
	CashbackStatusPending  CashbackStatus = "pending"
	CashbackStatusApproved CashbackStatus = "approved"
	CashbackStatusRejected CashbackStatus = "rejected"
	CashbackStatusPaid     CashbackStatus = "paid"
)

// Terminal reports whether no further transition is allowed from the status.
func (s CashbackStatus) Terminal() bool {
	return s == CashbackStatusRejected || s == CashbackStatusPaid
}

// PaymentStatus tracks the external disbursement lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusProcessed  PaymentStatus = "processed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// RiskSeverity weighs a single risk factor.
type RiskSeverity string

const (
	RiskSeverityLow    RiskSeverity = "low"
	RiskSeverityMedium RiskSeverity = "medium"
	RiskSeverityHigh   RiskSeverity = "high"
)

// RiskFactorType enumerates signal categories produced by the scoring rules.
type RiskFactorType string

const (
	RiskFactorAmount   RiskFactorType = "amount"
	RiskFactorVelocity RiskFactorType = "velocity"
	RiskFactorPattern  RiskFactorType = "pattern"
	RiskFactorAccount  RiskFactorType = "account"
)

// RiskFactor is a named, weighted fraud signal attached to a request.
type RiskFactor struct {
	Type        RiskFactorType `json:"type"`
	Severity    RiskSeverity   `json:"severity"`
	Description string         `json:"description"`
	Weight      int            `json:"weight"`
}

// RiskFactors is stored as a JSONB column.
type RiskFactors []RiskFactor

// Value implements driver.Valuer.
func (f RiskFactors) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *RiskFactors) Scan(src interface{}) error {
	return scanJSON(src, f, "risk factors")
}

// TimelineEntry records a single status transition.
type TimelineEntry struct {
	Status    CashbackStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Notes     string         `json:"notes"`
	By        string         `json:"by"`
}

// Timeline is the append-only transition history stored as a JSONB column.
type Timeline []TimelineEntry

// Value implements driver.Valuer.
func (t Timeline) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner.
func (t *Timeline) Scan(src interface{}) error {
	return scanJSON(src, t, "timeline")
}

// BankDetails identifies the customer account used for payouts.
type BankDetails struct {
	AccountNumber     string `json:"accountNumber"`
	IFSCCode          string `json:"ifscCode"`
	AccountHolderName string `json:"accountHolderName"`
}

// Complete reports whether every field required for a payout is present.
func (b *BankDetails) Complete() bool {
	return b != nil && b.AccountNumber != "" && b.IFSCCode != "" && b.AccountHolderName != ""
}

// Value implements driver.Valuer.
func (b *BankDetails) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

// Scan implements sql.Scanner.
func (b *BankDetails) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	return scanJSON(src, b, "bank details")
}

// CashbackRequest is the central cashback workflow record.
type CashbackRequest struct {
	ID            string `db:"id" json:"id"`
	RequestNumber string `db:"request_number" json:"requestNumber"`
	MerchantID    string `db:"merchant_id" json:"merchantId"`
	CustomerID    string `db:"customer_id" json:"customerId"`
	OrderID       string `db:"order_id" json:"orderId"`

	RequestedAmount float64  `db:"requested_amount" json:"requestedAmount"`
	ApprovedAmount  *float64 `db:"approved_amount" json:"approvedAmount,omitempty"`
	PaidAmount      *float64 `db:"paid_amount" json:"paidAmount,omitempty"`
	OrderAmount     float64  `db:"order_amount" json:"orderAmount"`

	Status           CashbackStatus `db:"status" json:"status"`
	RiskScore        int            `db:"risk_score" json:"riskScore"`
	RiskFactors      RiskFactors    `db:"risk_factors" json:"riskFactors"`
	FlaggedForReview bool           `db:"flagged_for_review" json:"flaggedForReview"`

	ReviewedBy      *string `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ApprovalNotes   *string `db:"approval_notes" json:"approvalNotes,omitempty"`
	RejectionReason *string `db:"rejection_reason" json:"rejectionReason,omitempty"`

	PaymentMethod    *string       `db:"payment_method" json:"paymentMethod,omitempty"`
	PaymentReference *string       `db:"payment_reference" json:"paymentReference,omitempty"`
	PayoutID         *string       `db:"payout_id" json:"payoutId,omitempty"`
	PaymentStatus    PaymentStatus `db:"payment_status" json:"paymentStatus"`

	CustomerBankDetails *BankDetails `db:"customer_bank_details" json:"customerBankDetails,omitempty"`

	Timeline Timeline `db:"timeline" json:"timeline"`

	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	ReviewedAt *time.Time `db:"reviewed_at" json:"reviewedAt,omitempty"`
	PaidAt     *time.Time `db:"paid_at" json:"paidAt,omitempty"`
}

// PayableAmount is the amount disbursed on payout: the approved amount when
// set, otherwise the requested amount.
func (r *CashbackRequest) PayableAmount() float64 {
	if r.ApprovedAmount != nil {
		return *r.ApprovedAmount
	}
	return r.RequestedAmount
}

// RiskLevel buckets for search filtering.
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// RiskBucketBounds returns the inclusive score range for a risk level bucket
// (low <30, medium 30-69, high >=70).
func RiskBucketBounds(level string) (min, max int, ok bool) {
	switch level {
	case RiskLevelLow:
		return 0, 29, true
	case RiskLevelMedium:
		return 30, 69, true
	case RiskLevelHigh:
		return 70, 100, true
	default:
		return 0, 0, false
	}
}

// CashbackFilter constrains search queries.
type CashbackFilter struct {
	MerchantID  string
	Status      CashbackStatus
	CustomerID  string
	StartDate   *time.Time
	EndDate     *time.Time
	MinAmount   *float64
	MaxAmount   *float64
	RiskLevel   string
	FlaggedOnly bool
	SortBy      string
	SortOrder   string
	Page        int
	Limit       int
}

// CashbackSearchResult pairs a result page with pagination metadata.
type CashbackSearchResult struct {
	Requests    []CashbackRequest `json:"requests"`
	TotalCount  int               `json:"totalCount"`
	Page        int               `json:"page"`
	Limit       int               `json:"limit"`
	HasNext     bool              `json:"hasNext"`
	HasPrevious bool              `json:"hasPrevious"`
}

// CashbackMetrics aggregates per-status counts and amounts for dashboards.
type CashbackMetrics struct {
	TotalRequests   int     `db:"total_requests" json:"totalRequests"`
	PendingCount    int     `db:"pending_count" json:"pendingCount"`
	ApprovedCount   int     `db:"approved_count" json:"approvedCount"`
	RejectedCount   int     `db:"rejected_count" json:"rejectedCount"`
	PaidCount       int     `db:"paid_count" json:"paidCount"`
	FlaggedCount    int     `db:"flagged_count" json:"flaggedCount"`
	PendingAmount   float64 `db:"pending_amount" json:"pendingAmount"`
	ApprovedAmount  float64 `db:"approved_amount" json:"approvedAmount"`
	PaidAmount      float64 `db:"paid_amount" json:"paidAmount"`
	RequestedAmount float64 `db:"requested_amount" json:"requestedAmount"`
}

// MonthlyTrend is one analytics bucket (YYYY-MM).
type MonthlyTrend struct {
	Month        string  `db:"month" json:"month"`
	RequestCount int     `db:"request_count" json:"requestCount"`
	PaidAmount   float64 `db:"paid_amount" json:"paidAmount"`
	FlaggedCount int     `db:"flagged_count" json:"flaggedCount"`
}

// TopCustomer summarises paid cashback per customer.
type TopCustomer struct {
	CustomerID    string  `db:"customer_id" json:"customerId"`
	TotalCashback float64 `db:"total_cashback" json:"totalCashback"`
	RequestCount  int     `db:"request_count" json:"requestCount"`
}

// CashbackAnalytics holds trend aggregates for the analytics endpoint.
type CashbackAnalytics struct {
	TotalPaid          float64        `json:"totalPaid"`
	TotalPending       int            `json:"totalPending"`
	ApprovalRate       float64        `json:"approvalRate"`
	AvgProcessingHours float64        `json:"avgProcessingHours"`
	FraudDetectionRate float64        `json:"fraudDetectionRate"`
	RiskDistribution   map[string]int `json:"riskDistribution"`
	MonthlyTrends      []MonthlyTrend `json:"monthlyTrends"`
	TopCustomers       []TopCustomer  `json:"topCustomers"`
}

// RiskInput carries the request attributes the scoring rules evaluate.
type RiskInput struct {
	MerchantID      string
	CustomerID      string
	OrderID         string
	RequestedAmount float64
	OrderAmount     float64
}

// RiskContext is light aggregate data fetched once by the caller so the
// scoring engine stays pure. Rules never query the database.
type RiskContext struct {
	MerchantAvgAmount    float64
	RecentRequestCount   int
	PriorApprovedCount   int
	DuplicateOrderCount  int
	CustomerAccountAge   int
	CustomerVerified     bool
}

// RiskAssessment is the scoring engine output, computed once at creation.
type RiskAssessment struct {
	RiskScore        int         `json:"riskScore"`
	RiskFactors      RiskFactors `json:"riskFactors"`
	FlaggedForReview bool        `json:"flaggedForReview"`
}

// BulkActionResult captures the per-id outcome of a bulk operation.
type BulkActionResult struct {
	Success       bool   `json:"success"`
	RequestID     string `json:"requestId"`
	RequestNumber string `json:"requestNumber,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

func scanJSON(src, dest interface{}, what string) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported %s column type %T", what, src)
	}
}
