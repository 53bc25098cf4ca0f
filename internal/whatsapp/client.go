package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNoHost is returned when neither the credentials nor the client
	// carry a gateway host.
	ErrNoHost = errors.New("whatsapp: no gateway host configured")
	// ErrUpstream wraps every non-2xx gateway answer.
	ErrUpstream = errors.New("whatsapp: gateway error")
)

// Client talks to the gateway REST API over plain JSON.
type Client struct {
	defaultHost string
	httpClient  *http.Client
}

// NewClient builds a client. timeout bounds every call; callers may pass a
// shorter deadline through the context.
func NewClient(defaultHost string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		defaultHost: strings.TrimRight(defaultHost, "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// FindMessages returns up to limit of the most recent inbound messages of
// the session. Ordering of the page is not guaranteed.
func (c *Client) FindMessages(ctx context.Context, cred Credentials, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"where": map[string]any{"key": map[string]any{"fromMe": false}},
		"limit": limit,
	}
	raw, err := c.do(ctx, cred, http.MethodPost, "/rest/chat/"+url.PathEscape(cred.InstanceKey)+"/findMessages", body)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: find messages: %w", err)
	}
	msgs, err := decodeMessages(raw)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: decode messages: %w", err)
	}
	return msgs, nil
}

// ConfigureWebhook points the session webhook at webhookURL. Setting the
// same URL twice is harmless.
func (c *Client) ConfigureWebhook(ctx context.Context, cred Credentials, webhookURL string) error {
	body := map[string]any{
		"webhookUrl":    webhookURL,
		"webhookEvents": []string{"messages.upsert", "connection.update"},
		"enabled":       true,
	}
	if _, err := c.do(ctx, cred, http.MethodPost, "/rest/webhook/"+url.PathEscape(cred.InstanceKey)+"/configWebhook", body); err != nil {
		return fmt.Errorf("whatsapp: configure webhook: %w", err)
	}
	return nil
}

// QRCode returns the pairing payload of a session that is not yet
// connected. Gateways return either raw QR text or a base64 PNG data URL.
func (c *Client) QRCode(ctx context.Context, cred Credentials) (string, error) {
	raw, err := c.do(ctx, cred, http.MethodGet, "/rest/instance/qrcode_base64/"+url.PathEscape(cred.InstanceKey), nil)
	if err != nil {
		return "", fmt.Errorf("whatsapp: qrcode: %w", err)
	}
	var out struct {
		QRCode string `json:"qrcode"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("whatsapp: decode qrcode: %w", err)
	}
	return out.QRCode, nil
}

// Status reads the session state.
func (c *Client) Status(ctx context.Context, cred Credentials) (State, error) {
	raw, err := c.do(ctx, cred, http.MethodGet, "/rest/instance/"+url.PathEscape(cred.InstanceKey), nil)
	if err != nil {
		return State{}, fmt.Errorf("whatsapp: status: %w", err)
	}
	var out struct {
		Instance struct {
			Connected bool `json:"phone_connected"`
			User      struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"instance_data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return State{}, fmt.Errorf("whatsapp: decode status: %w", err)
	}
	phone, _, _ := strings.Cut(out.Instance.User.ID, "@")
	phone, _, _ = strings.Cut(phone, ":")
	return State{Connected: out.Instance.Connected, PhoneNumber: phone}, nil
}

func (c *Client) do(ctx context.Context, cred Credentials, method, path string, payload any) ([]byte, error) {
	host := strings.TrimRight(cred.Host, "/")
	if host == "" {
		host = c.defaultHost
	}
	if host == "" {
		return nil, ErrNoHost
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, host+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return raw, nil
}

// decodeMessages accepts a bare array, {"messages": [...]} and
// {"messages": {"records": [...]}}.
func decodeMessages(raw []byte) ([]Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []Message
		err := json.Unmarshal(raw, &list)
		return list, err
	}
	var wrapped struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	inner := bytes.TrimSpace(wrapped.Messages)
	if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
		return nil, nil
	}
	if inner[0] == '[' {
		var list []Message
		err := json.Unmarshal(inner, &list)
		return list, err
	}
	var page struct {
		Records []Message `json:"records"`
	}
	if err := json.Unmarshal(inner, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}
