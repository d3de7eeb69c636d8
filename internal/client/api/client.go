package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"pospay.backend/internal/domain/entities"
	"pospay.backend/pkg/payload"
)

const (
	DefaultTimeout    = 10 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
)

// Client talks to the POS payment backend on behalf of one device identity.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken swaps the bearer token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

type ChargeInput struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Note     string `json:"note,omitempty"`
}

// CreatedRequest is the server's answer to a charge.
type CreatedRequest struct {
	RequestID     uuid.UUID              `json:"requestId"`
	Status        string                 `json:"status"`
	Amount        entities.Amount        `json:"amount"`
	Currency      entities.Currency      `json:"currency"`
	SignedPayload *payload.SignedPayload `json:"signedPayload"`
	QRText        string                 `json:"qrText"`
	ExpiresAt     time.Time              `json:"expiresAt"`
	ExpiresInSecs int                    `json:"expiresInSeconds"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreatePaymentRequest issues a new request. idempotencyKey may be empty.
func (c *Client) CreatePaymentRequest(ctx context.Context, in ChargeInput, idempotencyKey string) (*CreatedRequest, error) {
	var out CreatedRequest
	if err := c.do(ctx, http.MethodPost, "/api/v1/payment-requests", in, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetStatus(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error) {
	var out entities.PaymentRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/payment-requests/"+requestID.String(), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error) {
	var out entities.PaymentRequest
	if err := c.do(ctx, http.MethodPost, "/api/v1/payment-requests/"+requestID.String()+"/cancel", struct{}{}, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Settle(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error) {
	var out entities.PaymentRequest
	if err := c.do(ctx, http.MethodPost, "/api/v1/payment-requests/"+requestID.String()+"/settle", struct{}{}, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve asks the server for the live request behind a scanned payload.
func (c *Client) Resolve(ctx context.Context, raw string) (*entities.PaymentRequest, error) {
	var out entities.PaymentRequest
	body := map[string]string{"payload": raw}
	if err := c.do(ctx, http.MethodPost, "/api/v1/payment-requests/resolve", body, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitOffline sends one queued offline job. The intent is wrapped with the job
// id and type; the job id doubles as the idempotency key, so a retried job
// returns the original outcome.
func (c *Client) SubmitOffline(ctx context.Context, jobID uuid.UUID, jobType string, intent json.RawMessage) (*entities.OfflineOutcome, error) {
	fields := map[string]json.RawMessage{}
	if len(intent) > 0 {
		if err := json.Unmarshal(intent, &fields); err != nil {
			return nil, &PermanentError{Code: CodeValidation, Message: "offline intent is not a JSON object: " + err.Error()}
		}
	}
	fields["jobId"], _ = json.Marshal(jobID.String())
	fields["jobType"], _ = json.Marshal(jobType)

	var out entities.OfflineOutcome
	if err := c.do(ctx, http.MethodPost, "/api/v1/offline-payments", fields, jobID.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SigningKey fetches the public key devices use to verify payloads offline.
func (c *Client) SigningKey(ctx context.Context) (jose.JSONWebKey, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/pos/signing-key", nil, "", &raw); err != nil {
		return jose.JSONWebKey{}, err
	}
	return payload.ParseJWK(raw)
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, idempotencyKey string, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(respBody, &eb)
		return classify(resp, eb)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
