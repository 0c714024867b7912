package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin           = "LOGIN"
	AuditActionCashbackCreate  = "CASHBACK_CREATE"
	AuditActionCashbackApprove = "CASHBACK_APPROVE"
	AuditActionCashbackReject  = "CASHBACK_REJECT"
	AuditActionCashbackPaid    = "CASHBACK_PAID"
	AuditActionPayoutAttempt   = "PAYOUT_ATTEMPT"
	AuditActionExport          = "CASHBACK_EXPORT"
)

// AuditLog represents a write-once audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	MerchantID *string   `db:"merchant_id" json:"merchant_id,omitempty"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Detail     []byte    `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
