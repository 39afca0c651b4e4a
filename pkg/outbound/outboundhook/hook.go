// Package outboundhook implements the outbound collaborator interfaces
// against the internal HTTP API of the main support backend. Delivery
// feedback, refunds and bot flow execution all live there; this package
// only carries the calls over.
package outboundhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chatdesk/courier/pkg/errx"
	"github.com/chatdesk/courier/pkg/outbound"
)

var hookErrors = errx.NewRegistry("OUTBOUND_HOOK")

var (
	ErrRequest  = hookErrors.Register("REQUEST_FAILED", errx.TypeExternal, 502, "Core backend request failed")
	ErrResponse = hookErrors.Register("BAD_RESPONSE", errx.TypeExternal, 502, "Core backend returned an error")
	ErrRejected = hookErrors.Register("REJECTED", errx.TypeValidation, 400, "Core backend rejected the request")
)

// Client talks to the core backend's internal API. It implements
// outbound.StatusNotifier, outbound.RefundProcessor and outbound.BotEngine.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// MarkDelivered records the wire message ID against the stored message.
// The core endpoint is idempotent by message ID.
func (c *Client) MarkDelivered(ctx context.Context, caseID, messageID int64, wireMessageID string) error {
	path := fmt.Sprintf("/internal/cases/%d/messages/%d/delivered", caseID, messageID)
	return c.post(ctx, path, map[string]any{
		"wireMessageId": wireMessageID,
	})
}

// ProcessRefund executes a refund through the payment gateway integration
// owned by the core backend.
func (c *Client) ProcessRefund(ctx context.Context, refund outbound.RefundPayload) error {
	return c.post(ctx, "/internal/refunds/process", refund)
}

// SendNode asks the bot engine to fire one conversation flow node.
func (c *Client) SendNode(ctx context.Context, phoneNo string, caseID int64, nodeID string) error {
	return c.post(ctx, "/internal/bot/send-node", map[string]any{
		"phoneNo": phoneNo,
		"caseId":  caseID,
		"nodeId":  nodeID,
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return hookErrors.NewWithCause(ErrRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return hookErrors.NewWithCause(ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return hookErrors.NewWithCause(ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return hookErrors.New(ErrRejected).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(respBody))
	}
	return hookErrors.New(ErrResponse).
		WithDetail("status", resp.StatusCode).
		WithDetail("body", string(respBody))
}
