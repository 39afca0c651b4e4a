// Package wapp is a minimal WhatsApp Cloud API (Graph API) client covering
// the outbound message kinds the delivery queue sends. Retrying is the
// queue's responsibility, not the client's: every failure surfaces as a
// classified errx error after a single attempt.
package wapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/chatdesk/courier/pkg/errx"
)

const (
	DefaultBaseURL = "https://graph.facebook.com/v19.0"
	DefaultTimeout = 20 * time.Second
)

// Client handles all HTTP communication with the WhatsApp Cloud API.
type Client struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client
}

// NewClient creates a WhatsApp API client. httpClient may be nil.
func NewClient(accessToken, phoneNumberID, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		baseURL:       baseURL,
		httpClient:    httpClient,
	}
}

// SendText sends a plain text message and returns the wire message ID.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	if text == "" {
		return "", wappErrors.NewWithMessage(ErrInvalidInput, "text body is required")
	}
	return c.send(ctx, outboundMessage{
		To:   to,
		Type: "text",
		Text: &textBody{Body: text},
	})
}

// SendButtons sends an interactive message with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	if len(buttons) == 0 || len(buttons) > 3 {
		return "", wappErrors.NewWithMessage(ErrInvalidInput, "between 1 and 3 buttons are required").
			WithDetail("buttons", len(buttons))
	}

	wire := make([]wireButton, len(buttons))
	for i, b := range buttons {
		wire[i] = wireButton{Type: "reply", Reply: b}
	}
	return c.send(ctx, outboundMessage{
		To:   to,
		Type: "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   &textBody{Body: body},
			Action: interactiveAction{Buttons: wire},
		},
	})
}

// SendList sends an interactive list message.
func (c *Client) SendList(ctx context.Context, to, body, buttonLabel string, sections []ListSection) (string, error) {
	if len(sections) == 0 {
		return "", wappErrors.NewWithMessage(ErrInvalidInput, "at least one list section is required")
	}
	return c.send(ctx, outboundMessage{
		To:   to,
		Type: "interactive",
		Interactive: &interactive{
			Type:   "list",
			Body:   &textBody{Body: body},
			Action: interactiveAction{Button: buttonLabel, Sections: sections},
		},
	})
}

// SendImage sends an image by public link.
func (c *Client) SendImage(ctx context.Context, to, link, caption string) (string, error) {
	if link == "" {
		return "", wappErrors.NewWithMessage(ErrInvalidInput, "image link is required")
	}
	return c.send(ctx, outboundMessage{
		To:    to,
		Type:  "image",
		Image: &mediaBody{Link: link, Caption: caption},
	})
}

// SendDocument sends a document by public link.
func (c *Client) SendDocument(ctx context.Context, to, link, filename, caption string) (string, error) {
	if link == "" {
		return "", wappErrors.NewWithMessage(ErrInvalidInput, "document link is required")
	}
	return c.send(ctx, outboundMessage{
		To:       to,
		Type:     "document",
		Document: &mediaBody{Link: link, Filename: filename, Caption: caption},
	})
}

func (c *Client) send(ctx context.Context, msg outboundMessage) (string, error) {
	if msg.To == "" {
		return "", wappErrors.NewWithMessage(ErrInvalidInput, "recipient phone number is required")
	}
	msg.MessagingProduct = "whatsapp"

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", wappErrors.NewWithCause(ErrInvalidInput, err)
	}

	body, apiErr := c.post(ctx, "/"+c.phoneNumberID+"/messages", payload)
	if apiErr != nil {
		return "", apiErr
	}

	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", wappErrors.NewWithCause(ErrAPIResponse, err)
	}
	if len(resp.Messages) == 0 {
		return "", wappErrors.NewWithMessage(ErrAPIResponse, "response carried no message id")
	}
	return resp.Messages[0].ID, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, *errx.Error) {
	url := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, wappErrors.NewWithCause(ErrAPIRequest, err).WithDetail("url", url)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wappErrors.NewWithCause(ErrAPIRequest, err).WithDetail("url", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wappErrors.NewWithCause(ErrAPIResponse, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}
