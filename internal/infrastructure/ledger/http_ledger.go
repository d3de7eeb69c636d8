package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"pospay.backend/internal/domain/repositories"
	"pospay.backend/pkg/logger"
)

const (
	creditPath         = "/v1/credits"
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 4 << 10
)

type creditRequest struct {
	RequestID   string `json:"requestId"`
	MerchantID  string `json:"merchantId"`
	PayerUserID string `json:"payerUserId"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	SettledAt   string `json:"settledAt"`
}

// HTTPLedger credits settlements through the wallet ledger service.
type HTTPLedger struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPLedger creates a ledger client rooted at baseURL.
func NewHTTPLedger(baseURL, apiKey string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Credit posts one credit instruction keyed by the request id. A 409 from the
// ledger means the credit already exists and counts as success.
func (l *HTTPLedger) Credit(ctx context.Context, in repositories.CreditInstruction) error {
	body, err := json.Marshal(creditRequest{
		RequestID:   in.RequestID.String(),
		MerchantID:  in.MerchantID.String(),
		PayerUserID: in.PayerUserID.String(),
		Amount:      in.Amount.String(),
		Currency:    string(in.Currency),
		SettledAt:   in.SettledAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credit: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+creditPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", in.RequestID.String())
	if l.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		logger.Info(ctx, "Ledger credit already recorded", zap.String("request_id", in.RequestID.String()))
		return nil
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("ledger error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

// LogLedger only records credits in the log. Used when no ledger URL is set.
type LogLedger struct{}

func NewLogLedger() *LogLedger {
	return &LogLedger{}
}

func (LogLedger) Credit(ctx context.Context, in repositories.CreditInstruction) error {
	logger.Info(ctx, "Ledger credit (log only)",
		zap.String("request_id", in.RequestID.String()),
		zap.String("merchant_id", in.MerchantID.String()),
		zap.String("payer_user_id", in.PayerUserID.String()),
		zap.String("amount", in.Amount.String()),
		zap.String("currency", string(in.Currency)),
	)
	return nil
}
