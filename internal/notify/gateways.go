package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

// gatewayClient posts JSON payloads to a provider gateway and classifies
// the response. All three built-in channels share it.
type gatewayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newGatewayClient(baseURL, apiKey string) gatewayClient {
	return gatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// post sends the payload and maps the response onto the delivery error
// taxonomy: 2xx success, 408/429/5xx transient, other 4xx permanent.
func (g gatewayClient) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return permanentErr("encoding payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return permanentErr("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transientErr("gateway unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transientErr("gateway status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	default:
		return permanentErr("gateway status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

// readErrorBody reads up to 1KB of an error response for diagnostics.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return "unreadable body"
	}
	return strings.TrimSpace(string(body))
}

// SMSChannel delivers alerts through an SMS gateway.
type SMSChannel struct {
	gateway gatewayClient
	sender  string
}

// NewSMSChannel creates an SMS channel for the given gateway.
func NewSMSChannel(baseURL, apiKey, sender string) *SMSChannel {
	return &SMSChannel{gateway: newGatewayClient(baseURL, apiKey), sender: sender}
}

func (c *SMSChannel) Name() string { return "sms" }

// Deliver sends the message body as a text. SMS has no subject line.
func (c *SMSChannel) Deliver(ctx context.Context, rcpt Recipient, msg Message) error {
	phone := strings.TrimSpace(rcpt.Phone)
	if phone == "" {
		return permanentErr("recipient has no phone number")
	}
	return c.gateway.post(ctx, "/v1/messages", map[string]string{
		"from": c.sender,
		"to":   phone,
		"text": msg.Body,
	})
}

// EmailChannel delivers alerts through an email gateway.
type EmailChannel struct {
	gateway gatewayClient
	sender  string
}

// NewEmailChannel creates an email channel for the given gateway.
func NewEmailChannel(baseURL, apiKey, sender string) *EmailChannel {
	return &EmailChannel{gateway: newGatewayClient(baseURL, apiKey), sender: sender}
}

func (c *EmailChannel) Name() string { return "email" }

// Deliver sends the message as an email. A malformed address is a
// permanent failure caught before the gateway round trip.
func (c *EmailChannel) Deliver(ctx context.Context, rcpt Recipient, msg Message) error {
	addr := strings.TrimSpace(rcpt.Email)
	if addr == "" {
		return permanentErr("recipient has no email address")
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return permanentErr("invalid email address %q", addr)
	}
	return c.gateway.post(ctx, "/v1/send", map[string]string{
		"from":    c.sender,
		"to":      addr,
		"subject": msg.Subject,
		"body":    msg.Body,
	})
}

// WhatsAppChannel delivers alerts through a WhatsApp business gateway.
type WhatsAppChannel struct {
	gateway gatewayClient
}

// NewWhatsAppChannel creates a WhatsApp channel for the given gateway.
func NewWhatsAppChannel(baseURL, apiKey string) *WhatsAppChannel {
	return &WhatsAppChannel{gateway: newGatewayClient(baseURL, apiKey)}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) Deliver(ctx context.Context, rcpt Recipient, msg Message) error {
	number := strings.TrimSpace(rcpt.WhatsApp)
	if number == "" {
		number = strings.TrimSpace(rcpt.Phone)
	}
	if number == "" {
		return permanentErr("recipient has no WhatsApp number")
	}
	return c.gateway.post(ctx, "/v1/messages", map[string]any{
		"to":   number,
		"type": "text",
		"text": map[string]string{"body": msg.Body},
	})
}

// ErrUnknownChannel indicates a request named a channel that is not
// configured for this deployment.
var ErrUnknownChannel = errors.New("unknown notification channel")

// ResolveChannels maps requested channel names onto configured channels.
func ResolveChannels(names []string, configured []Channel) ([]Channel, error) {
	byName := make(map[string]Channel, len(configured))
	for _, ch := range configured {
		byName[ch.Name()] = ch
	}
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		ch, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
		}
		out = append(out, ch)
	}
	return out, nil
}
