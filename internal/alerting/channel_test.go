package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *map[string]string) {
	t.Helper()
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &payload
}

func TestSlackChannel(t *testing.T) {
	server, payload := newCaptureServer(t, http.StatusOK)

	ch := NewSlackChannel(server.URL)
	require.NoError(t, ch.Send(context.Background(), "key rotated"))
	assert.Equal(t, "slack", ch.Name())
	assert.Equal(t, map[string]string{"text": "key rotated"}, *payload)
}

func TestWebhookChannel(t *testing.T) {
	server, payload := newCaptureServer(t, http.StatusAccepted)

	ch := NewWebhookChannel(server.URL)
	require.NoError(t, ch.Send(context.Background(), "key rotated"))
	assert.Equal(t, "webhook", ch.Name())
	assert.Equal(t, map[string]string{"message": "key rotated"}, *payload)
}

func TestWebhookChannel_Non2xx(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusBadGateway)

	err := NewWebhookChannel(server.URL).Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhookChannel_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.Error(t, NewSlackChannel(url).Send(context.Background(), "x"))
}

func TestEmailChannel(t *testing.T) {
	var (
		gotAddr string
		gotAuth smtp.Auth
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	sender := func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, auth, from, to, string(msg)
		return nil
	}

	config := SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "alerts", Password: "pw", From: "alerts@example.com"}
	ch := NewEmailChannel(config, []string{"ops@example.com", "sec@example.com"}).WithSender(sender)

	require.NoError(t, ch.Send(context.Background(), "line one\nline two"))
	assert.Equal(t, "email", ch.Name())
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com", "sec@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: SecretsManager Alert\r\n")
	assert.Contains(t, gotMsg, "To: ops@example.com, sec@example.com\r\n")
	assert.Contains(t, gotMsg, "\r\n\r\nline one\r\nline two\r\n")
}

func TestEmailChannel_NoAuthWithoutUsername(t *testing.T) {
	var gotAuth smtp.Auth = smtp.PlainAuth("", "u", "p", "h")
	sender := func(_ string, auth smtp.Auth, _ string, _ []string, _ []byte) error {
		gotAuth = auth
		return nil
	}

	ch := NewEmailChannel(SMTPConfig{Host: "localhost", Port: 25}, []string{"ops@example.com"}).WithSender(sender)
	require.NoError(t, ch.Send(context.Background(), "x"))
	assert.Nil(t, gotAuth)
}

func TestEmailChannel_Errors(t *testing.T) {
	sender := func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	ch := NewEmailChannel(SMTPConfig{Host: "localhost", Port: 25}, []string{"ops@example.com"}).WithSender(sender)

	err := ch.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ch.Send(ctx, "x"), context.Canceled)
}
