package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSMSGatewayPostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sms-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewSMSGateway(srv.URL, "sms-token", "HOSTEL", srv.Client())
	err := p.Send(context.Background(), Message{Recipient: "+15550100", Subject: "Leave approved", Body: "Enjoy your trip"})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", got["to"])
	assert.Equal(t, "HOSTEL", got["from"])
	assert.Equal(t, "Leave approved: Enjoy your trip", got["message"])
}

func TestPushGatewaySurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try later"))
	}))
	defer srv.Close()

	p := NewPushGateway(srv.URL, "", srv.Client())
	err := p.Send(context.Background(), Message{Recipient: "device-1", Subject: "Alert", Body: "Low attendance"})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	assert.True(t, perr.Retryable())
}

func TestProvidersRequireRecipient(t *testing.T) {
	providers := []Provider{
		NewSMSGateway("http://unused", "", "", nil),
		NewPushGateway("http://unused", "", nil),
		NewResendEmail(resend.NewClient("key"), "noreply@hostel.test"),
	}
	for _, p := range providers {
		assert.ErrorIs(t, p.Send(context.Background(), Message{Body: "x"}), ErrNoRecipient, p.Name())
	}
}

func TestResendEmailSendsHTML(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	client := resend.NewClient("re_test")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	p := NewResendEmail(client, "Hostel <noreply@hostel.test>")
	require.NoError(t, p.Send(context.Background(), Message{Recipient: "asha@example.com", Subject: "Leave approved", Body: "See you soon"}))
	assert.Equal(t, "Leave approved", payload["subject"])
	assert.Contains(t, payload["html"], "See you soon")
}

func TestLogProviderNeverFails(t *testing.T) {
	p := NewLogProvider("PUSH", zap.NewNop())
	assert.NoError(t, p.Send(context.Background(), Message{}))
	assert.Equal(t, "log-PUSH", p.Name())
}
