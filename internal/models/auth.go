package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MerchantRole scopes what an authenticated actor may do.
type MerchantRole string

const (
	RoleMerchant MerchantRole = "MERCHANT"
	RoleStaff    MerchantRole = "STAFF"
	RoleAdmin    MerchantRole = "ADMIN"
)

// Merchant is a back-office account that owns stores and cashback requests.
type Merchant struct {
	ID           string       `db:"id" json:"id"`
	Email        string       `db:"email" json:"email"`
	PasswordHash string       `db:"password_hash" json:"-"`
	BusinessName string       `db:"business_name" json:"business_name"`
	Role         MerchantRole `db:"role" json:"role"`
	Active       bool         `db:"active" json:"active"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	LastLoginAt  *time.Time   `db:"last_login_at" json:"last_login_at,omitempty"`
}

// LoginRequest holds credentials for authenticating a merchant.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse returns the issued token and merchant info.
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	Merchant    MerchantInfo `json:"merchant"`
	IssuedAt    time.Time    `json:"issued_at"`
}

// MerchantInfo describes the authenticated merchant in responses.
type MerchantInfo struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	BusinessName string       `json:"business_name"`
	Role         MerchantRole `json:"role"`
}

// AuthContext identifies the actor behind every core operation. Ownership
// checks compare MerchantID against the request record before any mutation.
type AuthContext struct {
	MerchantID string
	ActorID    string
	Role       MerchantRole
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	MerchantID   string       `json:"merchant_id"`
	Role         MerchantRole `json:"role"`
	Email        string       `json:"email"`
	BusinessName string       `json:"business_name"`
	jwt.RegisteredClaims
}

// AuthContext derives the actor context from token claims.
func (c *JWTClaims) AuthContext() AuthContext {
	return AuthContext{MerchantID: c.MerchantID, ActorID: c.MerchantID, Role: c.Role}
}
