package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// gateway posts JSON payloads to a bearer-authenticated HTTP endpoint.
type gateway struct {
	name   string
	url    string
	token  string
	client *http.Client
}

func newGateway(name, url, token string, client *http.Client) gateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return gateway{name: name, url: url, token: token, client: client}
}

func (g gateway) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", g.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", g.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", g.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: g.name, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SMSGateway sends text messages through an HTTP SMS gateway.
type SMSGateway struct {
	gateway
	senderID string
}

// NewSMSGateway builds an SMS provider. A nil client gets a 10s timeout.
func NewSMSGateway(url, token, senderID string, client *http.Client) *SMSGateway {
	return &SMSGateway{gateway: newGateway("sms-gateway", url, token, client), senderID: senderID}
}

// Name implements Provider.
func (p *SMSGateway) Name() string { return p.name }

// Send implements Provider. SMS carries the subject as a prefix.
func (p *SMSGateway) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrNoRecipient
	}
	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + ": " + msg.Body
	}
	return p.post(ctx, map[string]string{
		"to":      msg.Recipient,
		"from":    p.senderID,
		"message": text,
	})
}

// PushGateway sends device push notifications through an HTTP gateway.
type PushGateway struct {
	gateway
}

// NewPushGateway builds a push provider.
func NewPushGateway(url, token string, client *http.Client) *PushGateway {
	return &PushGateway{gateway: newGateway("push-gateway", url, token, client)}
}

// Name implements Provider.
func (p *PushGateway) Name() string { return p.name }

// Send implements Provider. The recipient is a device token.
func (p *PushGateway) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrNoRecipient
	}
	return p.post(ctx, struct {
		Token string            `json:"token"`
		Title string            `json:"title"`
		Body  string            `json:"body"`
		Data  map[string]string `json:"data,omitempty"`
	}{Token: msg.Recipient, Title: msg.Subject, Body: msg.Body, Data: msg.Data})
}
