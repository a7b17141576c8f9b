// Package dingtalk implements the notification webhook client with
// HMAC-SHA256 request signing and msgUuid delivery idempotency.
package dingtalk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client sends messages to the notification webhook.
type Client interface {
	SendMarkdown(ctx context.Context, title, text, msgUUID string) (*Response, error)
	SendText(ctx context.Context, content, msgUUID string) (*Response, error)
}

// Response is the provider's delivery acknowledgment. ErrCode zero
// means accepted; anything else is a delivery failure.
type Response struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// OK reports whether the provider accepted the message.
func (r *Response) OK() bool {
	return r != nil && r.ErrCode == 0
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// withNow overrides the signing clock in tests.
func withNow(now func() time.Time) Option {
	return func(c *httpClient) {
		c.now = now
	}
}

type httpClient struct {
	webhookURL string
	secret     string
	http       *http.Client
	now        func() time.Time
}

// NewClient creates a webhook client. The webhook URL already carries
// the access token; secret enables signed requests and may be empty.
func NewClient(webhookURL, secret string, opts ...Option) Client {
	c := &httpClient{
		webhookURL: webhookURL,
		secret:     secret,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sign computes the provider's request signature: HMAC-SHA256 over
// "{timestamp}\n{secret}", base64-encoded, then URL-percent-encoded.
func Sign(timestampMillis int64, secret string) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestampMillis, secret)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// signedURL appends timestamp and sign query parameters when a secret
// is configured.
func (c *httpClient) signedURL() string {
	if c.secret == "" {
		return c.webhookURL
	}
	ts := c.now().UnixMilli()
	sep := "?"
	if strings.Contains(c.webhookURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s", c.webhookURL, sep, ts, Sign(ts, c.secret))
}

func (c *httpClient) send(ctx context.Context, payload map[string]any, msgUUID string) (*Response, error) {
	if msgUUID != "" {
		payload["msgUuid"] = msgUUID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "dingtalk: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.signedURL(), bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "dingtalk: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "dingtalk: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "dingtalk: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("dingtalk: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "dingtalk: unmarshal response")
	}

	if !result.OK() {
		zap.L().Warn("dingtalk: delivery rejected",
			zap.Int("errcode", result.ErrCode),
			zap.String("errmsg", result.ErrMsg),
		)
	}
	return &result, nil
}

// SendMarkdown delivers a markdown card. The provider suppresses
// duplicate deliveries sharing the same msgUUID.
func (c *httpClient) SendMarkdown(ctx context.Context, title, text, msgUUID string) (*Response, error) {
	zap.L().Info("dingtalk: push markdown",
		zap.String("title", title),
		zap.String("msg_uuid", msgUUID),
	)
	return c.send(ctx, map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  text,
		},
		"at": map[string]any{"isAtAll": false},
	}, msgUUID)
}

// SendText delivers a plain text message.
func (c *httpClient) SendText(ctx context.Context, content, msgUUID string) (*Response, error) {
	return c.send(ctx, map[string]any{
		"msgtype": "text",
		"text": map[string]string{
			"content": content,
		},
		"at": map[string]any{"isAtAll": false},
	}, msgUUID)
}
