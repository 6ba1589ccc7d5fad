// Package notify delivers match alerts over independent channels with
// retry, rate limiting, and idempotency guarantees. The channel set is a
// closed set of variants: SMS, email, and WhatsApp gateways.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Classification separates delivery failures that are worth retrying from
// those that are not.
type Classification string

const (
	// Transient failures (timeouts, rate limits, gateway 5xx) are retried
	// with backoff.
	Transient Classification = "transient"
	// Permanent failures (invalid contact address, gateway 4xx) fail
	// immediately without retry.
	Permanent Classification = "permanent"
)

// DeliveryError is a classified failure from a channel gateway.
type DeliveryError struct {
	Classification Classification
	Reason         string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failure: %s", e.Classification, e.Reason)
}

// transientErr builds a retryable delivery error.
func transientErr(format string, args ...any) *DeliveryError {
	return &DeliveryError{Classification: Transient, Reason: fmt.Sprintf(format, args...)}
}

// permanentErr builds a non-retryable delivery error.
func permanentErr(format string, args ...any) *DeliveryError {
	return &DeliveryError{Classification: Permanent, Reason: fmt.Sprintf(format, args...)}
}

// Classify extracts the classification from an error. Unclassified errors
// (network failures, cancelled contexts) count as transient so the retry
// loop gets a chance, except context cancellation which aborts outright.
func Classify(err error) Classification {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Classification
	}
	return Transient
}

// Recipient holds contact details for a notification target. Channels pick
// the address they need.
type Recipient struct {
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

// Message is the rendered alert content handed to a channel.
type Message struct {
	Subject string
	Body    string
}

// Names of the built-in channels, as used in configuration and requests.
const (
	ChannelSMS      = "sms"
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Channel delivers a message to a recipient over one transport. Deliver
// returns nil on success or a classified error; it must respect context
// cancellation.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, rcpt Recipient, msg Message) error
}

// AttemptState is the outcome of one delivery attempt.
type AttemptState string

const (
	AttemptSent     AttemptState = "sent"
	AttemptFailed   AttemptState = "failed"
	AttemptRetrying AttemptState = "retrying"
)

// Attempt records one try at delivering through a channel.
type Attempt struct {
	At     time.Time    `json:"at"`
	State  AttemptState `json:"state"`
	Reason string       `json:"reason,omitempty"`
}
