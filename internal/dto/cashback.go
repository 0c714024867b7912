package dto

import (
	"time"

	"github.com/cashstore/merchant-api/internal/models"
)

// CreateCashbackRequest payload for submitting a new cashback claim.
type CreateCashbackRequest struct {
	CustomerID      string              `json:"customerId" binding:"required"`
	OrderID         string              `json:"orderId" binding:"required"`
	RequestedAmount float64             `json:"requestedAmount" binding:"required,gt=0"`
	OrderAmount     float64             `json:"orderAmount" binding:"required,gt=0"`
	Reason          string              `json:"reason"`
	BankDetails     *models.BankDetails `json:"bankDetails"`

	// Customer aggregates supplied by the intake caller so risk scoring stays
	// free of cross-service lookups.
	CustomerAccountAge int  `json:"customerAccountAge"`
	CustomerVerified   bool `json:"customerVerified"`
}

// ApproveCashbackRequest payload for the approve transition.
type ApproveCashbackRequest struct {
	ApprovedAmount float64 `json:"approvedAmount" binding:"required,gt=0"`
	Notes          string  `json:"notes"`
}

// RejectCashbackRequest payload for the reject transition.
type RejectCashbackRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// MarkPaidRequest payload for the manual payment confirmation path.
type MarkPaidRequest struct {
	PaymentMethod    string `json:"paymentMethod" binding:"required,oneof=wallet bank_transfer check"`
	PaymentReference string `json:"paymentReference" binding:"required"`
	Notes            string `json:"notes"`
}

// ProcessPaymentRequest optionally overrides stored bank details when
// retrying an automated payout.
type ProcessPaymentRequest struct {
	BankDetails *models.BankDetails `json:"bankDetails"`
}

// BulkActionRequest applies approve/reject to a batch of request ids.
type BulkActionRequest struct {
	RequestIDs      []string `json:"requestIds" binding:"required,min=1"`
	Action          string   `json:"action" binding:"required,oneof=approve reject"`
	Notes           string   `json:"notes"`
	RejectionReason string   `json:"rejectionReason"`
}

// BulkActionResponse summarises batch outcomes.
type BulkActionResponse struct {
	Results []models.BulkActionResult `json:"results"`
	Summary BulkActionSummary         `json:"summary"`
}

// BulkActionSummary counts batch outcomes.
type BulkActionSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// CashbackQuery mirrors supported search filters from query parameters.
type CashbackQuery struct {
	Status      string
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

// PayoutStatusResponse reports the external disbursement state.
type PayoutStatusResponse struct {
	CashbackID string  `json:"cashbackId"`
	PayoutID   string  `json:"payoutId"`
	Status     string  `json:"status"`
	Amount     float64 `json:"amount,omitempty"`
}

// PendingCountResponse carries the cached pending counter.
type PendingCountResponse struct {
	Count  int  `json:"count"`
	Cached bool `json:"cached"`
}

// ExportQuery filters the export dataset.
type ExportQuery struct {
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	Format    string
}

// ExportResponse points the caller at the rendered file.
type ExportResponse struct {
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RecordCount int       `json:"recordCount"`
	Format      string    `json:"format"`
}
