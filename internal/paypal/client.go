package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/transacta/paymentid/internal/config"
	"github.com/transacta/paymentid/internal/metrics"
)

const (
	LiveBaseURL    = "https://api-m.paypal.com"
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"

	defaultTimeout = 15 * time.Second
	// tokens are refreshed this long before PayPal expires them
	tokenSkew = 60 * time.Second
)

var (
	ErrNotConfigured = errors.New("paypal client credentials are not configured")
	// ErrSignatureInvalid is returned when PayPal does not confirm a webhook signature.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
)

// APIError is a non-2xx PayPal response.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal %s failed: status=%d body=%s", e.Operation, e.StatusCode, e.Body)
}

// Client talks to the PayPal REST API with client-credentials auth.
type Client struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Mode         string
	WebhookID    string

	HTTPClient *http.Client
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// BaseURLFor picks the API host: an explicit override wins, otherwise live
// when a client id is configured and mode is not sandbox.
func BaseURLFor(cfg config.PayPal) string {
	if cfg.APIBaseURL != "" {
		return strings.TrimRight(cfg.APIBaseURL, "/")
	}
	if cfg.ClientID != "" && !strings.EqualFold(cfg.Mode, "sandbox") {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

// ModeFor reports "live" or "sandbox" the same way BaseURLFor decides.
func ModeFor(cfg config.PayPal) string {
	if cfg.ClientID != "" && !strings.EqualFold(cfg.Mode, "sandbox") {
		return "live"
	}
	return "sandbox"
}

func NewClient(cfg config.PayPal, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		BaseURL:      BaseURLFor(cfg),
		Mode:         ModeFor(cfg),
		WebhookID:    cfg.WebhookID,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		nowFunc: time.Now,
	}
}

// accessToken returns a cached token or fetches a new one.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if c.token != "" && now.Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return "", ErrNotConfigured
	}

	defer metrics.PayPalCall("oauth_token", time.Now())

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Operation: "oauth_token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("paypal token response returned empty access_token")
	}

	c.token = out.AccessToken
	c.tokenExpiry = now.Add(time.Duration(out.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

// do sends an authenticated JSON request and returns the raw response body.
func (c *Client) do(ctx context.Context, operation, method, path string, in any) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	defer metrics.PayPalCall(operation, time.Now())

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) order(ctx context.Context, operation, method, path string, in any) (*Order, error) {
	body, err := c.do(ctx, operation, method, path, in)
	if err != nil {
		return nil, err
	}
	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}
	o.Raw = body
	return &o, nil
}

// CreateOrder calls POST /v2/checkout/orders.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return c.order(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", req)
}

// GetOrder calls GET /v2/checkout/orders/{id}.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return c.order(ctx, "get_order", http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil)
}

// CaptureOrder calls POST /v2/checkout/orders/{id}/capture.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	return c.order(ctx, "capture_order", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{})
}

// ConfirmCapture is the listener's follow-up capture call after a completion
// notification. PayPal rejects it for orders that are already captured, so
// failures are only logged.
func (c *Client) ConfirmCapture(ctx context.Context, orderID string) {
	if _, err := c.do(ctx, "confirm_capture", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{}); err != nil {
		c.logger.WarnContext(ctx, "PayPal capture confirmation failed", "order_id", orderID, "error", err)
	}
}

// AcknowledgeDenial notifies PayPal of a processed denial. Failures are only logged.
func (c *Client) AcknowledgeDenial(ctx context.Context, orderID string) {
	if _, err := c.do(ctx, "acknowledge_denial", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/deny", struct{}{}); err != nil {
		c.logger.WarnContext(ctx, "PayPal denial acknowledgement failed", "order_id", orderID, "error", err)
	}
}

// VerifyWebhookSignature asks PayPal to validate the transmission signature
// of rawEvent. Returns ErrSignatureInvalid unless PayPal answers SUCCESS.
func (c *Client) VerifyWebhookSignature(ctx context.Context, h SignatureHeaders, rawEvent []byte) error {
	body, err := c.do(ctx, "verify_webhook_signature", http.MethodPost, "/v1/notifications/verify-webhook-signature", verifyRequest{
		AuthAlgo:         h.AuthAlgo,
		CertURL:          h.CertURL,
		TransmissionID:   h.TransmissionID,
		TransmissionSig:  h.TransmissionSig,
		TransmissionTime: h.TransmissionTime,
		WebhookID:        c.WebhookID,
		WebhookEvent:     json.RawMessage(rawEvent),
	})
	if err != nil {
		return err
	}
	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode verification response: %w", err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return ErrSignatureInvalid
	}
	return nil
}
