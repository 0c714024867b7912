package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cashstore/merchant-api/internal/models"
)

// MerchantRepository persists merchant accounts.
type MerchantRepository struct {
	db *sqlx.DB
}

// NewMerchantRepository constructs the repository.
func NewMerchantRepository(db *sqlx.DB) *MerchantRepository {
	return &MerchantRepository{db: db}
}

// FindByEmail returns the merchant with the given email.
func (r *MerchantRepository) FindByEmail(ctx context.Context, email string) (*models.Merchant, error) {
	const query = `SELECT id, email, password_hash, business_name, role, active, created_at, last_login_at
	FROM merchants WHERE email = $1`
	var merchant models.Merchant
	if err := r.db.GetContext(ctx, &merchant, query, email); err != nil {
		return nil, err
	}
	return &merchant, nil
}

// FindByID returns the merchant with the given id.
func (r *MerchantRepository) FindByID(ctx context.Context, id string) (*models.Merchant, error) {
	const query = `SELECT id, email, password_hash, business_name, role, active, created_at, last_login_at
	FROM merchants WHERE id = $1`
	var merchant models.Merchant
	if err := r.db.GetContext(ctx, &merchant, query, id); err != nil {
		return nil, err
	}
	return &merchant, nil
}

// UpdateLastLogin records a successful authentication.
func (r *MerchantRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE merchants SET last_login_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
