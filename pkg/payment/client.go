package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.razorpay.com/v1"

// Config carries payout gateway credentials.
type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	AccountNumber string
	Timeout       time.Duration
}

// PayoutRequest describes a single bank disbursement.
type PayoutRequest struct {
	Amount          float64
	Currency        string
	AccountNumber   string
	IFSCCode        string
	BeneficiaryName string
	Purpose         string
	Reference       string
}

// PayoutResult is the gateway response for a created payout.
type PayoutResult struct {
	PayoutID string  `json:"id"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
}

// PayoutStatus reports the current state of an existing payout.
type PayoutStatus struct {
	PayoutID  string    `json:"id"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Client talks to a RazorpayX-style payout REST API over basic auth.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs the payout client. All requests are bounded by the
// configured timeout in addition to any caller-supplied context deadline.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type payoutPayload struct {
	AccountNumber     string             `json:"account_number"`
	Amount            int64              `json:"amount"`
	Currency          string             `json:"currency"`
	Mode              string             `json:"mode"`
	Purpose           string             `json:"purpose"`
	QueueIfLowBalance bool               `json:"queue_if_low_balance"`
	ReferenceID       string             `json:"reference_id"`
	FundAccount       fundAccountPayload `json:"fund_account"`
}

type fundAccountPayload struct {
	AccountType string             `json:"account_type"`
	BankAccount bankAccountPayload `json:"bank_account"`
}

type bankAccountPayload struct {
	Name          string `json:"name"`
	IFSC          string `json:"ifsc"`
	AccountNumber string `json:"account_number"`
}

type payoutResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	CreatedAt int64  `json:"created_at"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreatePayout initiates a bank transfer. Amounts are submitted in the
// gateway's minor unit (paise).
func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}
	payload := payoutPayload{
		AccountNumber:     c.cfg.AccountNumber,
		Amount:            int64(math.Round(req.Amount * 100)),
		Currency:          currency,
		Mode:              "IMPS",
		Purpose:           req.Purpose,
		QueueIfLowBalance: true,
		ReferenceID:       req.Reference,
		FundAccount: fundAccountPayload{
			AccountType: "bank_account",
			BankAccount: bankAccountPayload{
				Name:          req.BeneficiaryName,
				IFSC:          req.IFSCCode,
				AccountNumber: req.AccountNumber,
			},
		},
	}

	var resp payoutResponse
	if err := c.do(ctx, http.MethodPost, "/payouts", payload, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("payout created",
		zap.String("payout_id", resp.ID),
		zap.String("status", resp.Status),
		zap.String("reference", req.Reference),
	)

	return &PayoutResult{
		PayoutID: resp.ID,
		Status:   resp.Status,
		Amount:   float64(resp.Amount) / 100,
	}, nil
}

// GetPayoutStatus fetches the current payout state, used to reconcile
// timed-out disbursement attempts.
func (c *Client) GetPayoutStatus(ctx context.Context, payoutID string) (*PayoutStatus, error) {
	var resp payoutResponse
	if err := c.do(ctx, http.MethodGet, "/payouts/"+payoutID, nil, &resp); err != nil {
		return nil, err
	}
	return &PayoutStatus{
		PayoutID:  resp.ID,
		Status:    resp.Status,
		Amount:    float64(resp.Amount) / 100,
		CreatedAt: time.Unix(resp.CreatedAt, 0),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal payout payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build payout request: %w", err)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payout gateway request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read payout response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var gatewayErr errorResponse
		if err := json.Unmarshal(raw, &gatewayErr); err == nil && gatewayErr.Error.Description != "" {
			return fmt.Errorf("payout gateway %s: %s (%s)", resp.Status, gatewayErr.Error.Description, gatewayErr.Error.Code)
		}
		return fmt.Errorf("payout gateway %s", resp.Status)
	}

	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("decode payout response: %w", err)
		}
	}
	return nil
}
