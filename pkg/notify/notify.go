// Package notify delivers outbound messages through external providers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is a rendered notification addressed to a single recipient.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Data      map[string]string
}

// Provider delivers messages over one channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// ErrNoRecipient is returned when a message has no destination.
var ErrNoRecipient = errors.New("notification recipient missing")

// ProviderError describes a non-success response from a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// Retryable reports whether the failure is worth retrying.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
