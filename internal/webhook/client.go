// Package webhook delivers alert notifications to customer endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/billingguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	HeaderDeliveryID = "X-Delivery-Id"
	userAgent        = "billingguard-webhook/1.0"
	maxResponseBody  = 4 << 10
)

var ErrInvalidURL = errors.New("invalid_webhook_url")

// Payload is the JSON body of a usage alert delivery.
type Payload struct {
	AlertID      string    `json:"alertId"`
	WorkspaceID  string    `json:"workspaceId"`
	ResourceType string    `json:"resourceType"`
	Threshold    float64   `json:"threshold"`
	CurrentUsage float64   `json:"currentUsage"`
	TriggeredAt  time.Time `json:"triggeredAt"`
	Message      string    `json:"message"`
}

// Client posts a payload once. Any transport error or non-2xx status is a
// failed delivery; retries are left to the caller.
type Client interface {
	Send(ctx context.Context, url string, payload Payload) (deliveryID string, err error)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Response   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded with status %d", e.StatusCode)
}

// IsStatusError checks if err carries a non-2xx response.
func IsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Policy config.PolicyProvider
}

type HTTPClient struct {
	client *http.Client
	policy config.PolicyProvider
	log    *zap.Logger
}

func NewClient(p Params) Client {
	return NewHTTPClient(&http.Client{}, p.Policy, p.Log)
}

// NewHTTPClient wraps client. The per-request timeout comes from the policy
// so a reload applies to the next delivery.
func NewHTTPClient(client *http.Client, policy config.PolicyProvider, log *zap.Logger) *HTTPClient {
	return &HTTPClient{client: client, policy: policy, log: log.Named("webhook.client")}
}

func (c *HTTPClient) Send(ctx context.Context, url string, payload Payload) (string, error) {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", ErrInvalidURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	if timeout := c.policy.Policy().WebhookTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	deliveryID := ulid.Make().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return deliveryID, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderDeliveryID, deliveryID)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("webhook.delivery_failed",
			zap.String("delivery_id", deliveryID),
			zap.String("alert_id", payload.AlertID),
			zap.Error(err),
		)
		return deliveryID, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("webhook.delivery_rejected",
			zap.String("delivery_id", deliveryID),
			zap.String("alert_id", payload.AlertID),
			zap.Int("status", resp.StatusCode),
		)
		return deliveryID, &StatusError{StatusCode: resp.StatusCode, Response: respBody}
	}

	c.log.Info("webhook.delivered",
		zap.String("delivery_id", deliveryID),
		zap.String("alert_id", payload.AlertID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return deliveryID, nil
}
