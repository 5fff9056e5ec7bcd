package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	emailSubject       = "SecretsManager Alert"
)

// Channel delivers one formatted alert batch. Implementations do not retry.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// SMTPSendFunc is the signature of smtp.SendMail.
type SMTPSendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig holds SMTP server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailChannel sends alerts as plain-text mail to a fixed recipient list.
type EmailChannel struct {
	config SMTPConfig
	to     []string
	send   SMTPSendFunc
}

// NewEmailChannel creates an EmailChannel using smtp.SendMail.
func NewEmailChannel(config SMTPConfig, to []string) *EmailChannel {
	return &EmailChannel{config: config, to: to, send: smtp.SendMail}
}

// WithSender replaces the SMTP send function.
func (e *EmailChannel) WithSender(send SMTPSendFunc) *EmailChannel {
	e.send = send
	return e
}

func (e *EmailChannel) Name() string {
	return "email"
}

func (e *EmailChannel) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := e.config.Host + ":" + strconv.Itoa(e.config.Port)
	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}
	if err := e.send(addr, auth, e.config.From, e.to, e.message(text)); err != nil {
		return fmt.Errorf("failed to send email alert: %w", err)
	}
	return nil
}

func (e *EmailChannel) message(text string) []byte {
	var buf bytes.Buffer
	buf.WriteString("From: " + e.config.From + "\r\n")
	buf.WriteString("To: " + strings.Join(e.to, ", ") + "\r\n")
	buf.WriteString("Subject: " + emailSubject + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(text, "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// webhookChannel POSTs a JSON object carrying the text under one field.
type webhookChannel struct {
	name   string
	url    string
	field  string
	client *http.Client
}

func (w *webhookChannel) Name() string {
	return w.name
}

func (w *webhookChannel) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{w.field: text})
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s alert: %w", w.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", w.name, resp.StatusCode)
	}
	return nil
}

// NewSlackChannel posts {"text": msg} to a Slack incoming webhook.
func NewSlackChannel(url string) Channel {
	return &webhookChannel{
		name:   "slack",
		url:    url,
		field:  "text",
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// NewWebhookChannel posts {"message": msg} to a generic webhook.
func NewWebhookChannel(url string) Channel {
	return &webhookChannel{
		name:   "webhook",
		url:    url,
		field:  "message",
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}
