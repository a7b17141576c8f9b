// Package feed implements the upstream content feed API client: token
// auth with proactive refresh, paginated article listing and detail
// fetch.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundradar/radar/internal/retry"
)

const (
	defaultBaseURL = "http://localhost:8001"
	apiPrefix      = "/api/v1/wx"

	// tokenSlack treats a token as expired this long before its actual
	// expiry so in-flight requests never race the deadline.
	tokenSlack = 5 * time.Minute
)

// Client fetches articles from the upstream feed.
type Client interface {
	ListArticles(ctx context.Context, params ListParams) ([]Article, error)
	GetArticleDetail(ctx context.Context, externalID string) (*Article, error)
}

// ListParams filters the paginated article listing.
type ListParams struct {
	Limit    int
	Offset   int
	SourceID string
}

// Article is one feed entry. The list endpoint omits Content; the
// detail endpoint includes it.
type Article struct {
	ID          string `json:"id"`
	SourceID    string `json:"mp_id"`
	SourceName  string `json:"mp_name"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublishTime int64  `json:"publish_time"` // unix seconds
	Content     string `json:"content,omitempty"`
}

// PublishedAt converts the unix publish timestamp.
func (a Article) PublishedAt() time.Time {
	return time.Unix(a.PublishTime, 0).UTC()
}

// envelope is the feed's uniform response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient creates a feed API client.
func NewClient(username, password string, opts ...Option) Client {
	c := &httpClient{
		baseURL:  defaultBaseURL,
		username: username,
		password: password,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) apiURL(endpoint string) string {
	return c.baseURL + apiPrefix + endpoint
}

// getToken returns a valid bearer token, refreshing proactively when
// the cached one is within tokenSlack of expiry and falling back to a
// full login when refresh fails.
func (c *httpClient) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt.Add(-tokenSlack)) {
		return c.token, nil
	}

	if c.token != "" {
		if err := c.refreshLocked(ctx); err == nil {
			return c.token, nil
		} else {
			zap.L().Warn("feed: token refresh failed, re-login", zap.Error(err))
		}
	}

	if err := c.loginLocked(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

func (c *httpClient) loginLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("/auth/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "feed: create login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	tok, err := c.doTokenRequest(req)
	if err != nil {
		return eris.Wrap(err, "feed: login")
	}
	c.setToken(tok)
	zap.L().Info("feed: login ok", zap.Int64("expires_in", tok.ExpiresIn))
	return nil
}

func (c *httpClient) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("/auth/refresh"), nil)
	if err != nil {
		return eris.Wrap(err, "feed: create refresh request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	tok, err := c.doTokenRequest(req)
	if err != nil {
		return eris.Wrap(err, "feed: refresh token")
	}
	c.setToken(tok)
	return nil
}

func (c *httpClient) setToken(tok *tokenResponse) {
	c.token = tok.AccessToken
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 259200 // feed default: 3 days
	}
	c.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
}

func (c *httpClient) doTokenRequest(req *http.Request) (*tokenResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, eris.Wrap(err, "unmarshal token")
	}
	if tok.AccessToken == "" {
		return nil, eris.New("empty access token")
	}
	return &tok, nil
}

// request performs an authenticated GET. A 401 invalidates the cached
// token, re-authenticates and retries once; transient failures are
// retried with backoff.
func (c *httpClient) request(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	cfg := retry.DefaultConfig()
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("feed: retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return retry.DoVal(ctx, cfg, func(ctx context.Context) (json.RawMessage, error) {
		return c.requestOnce(ctx, endpoint, query)
	})
}

func (c *httpClient) requestOnce(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	body, status, err := c.doGet(ctx, endpoint, query, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		zap.L().Warn("feed: 401, re-authenticating", zap.String("endpoint", endpoint))
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()

		token, err = c.getToken(ctx)
		if err != nil {
			return nil, err
		}
		body, status, err = c.doGet(ctx, endpoint, query, token)
		if err != nil {
			return nil, err
		}
	}

	if status != http.StatusOK {
		err := eris.Errorf("feed: unexpected status %d: %s", status, string(body))
		if retry.TransientStatus(status) {
			return nil, retry.Transient(err, status)
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "feed: unmarshal envelope")
	}
	if env.Code != 0 {
		return nil, eris.Errorf("feed: api code %d", env.Code)
	}
	return env.Data, nil
}

func (c *httpClient) doGet(ctx context.Context, endpoint string, query url.Values, token string) ([]byte, int, error) {
	u := c.apiURL(endpoint)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "feed: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "feed: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "feed: read response")
	}
	return body, resp.StatusCode, nil
}

// ListArticles returns one page of articles, newest first.
func (c *httpClient) ListArticles(ctx context.Context, params ListParams) ([]Article, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(params.Offset))
	query.Set("has_content", "false")
	if params.SourceID != "" {
		query.Set("mp_id", params.SourceID)
	}

	data, err := c.request(ctx, "/articles", query)
	if err != nil {
		return nil, err
	}

	var page struct {
		List []Article `json:"list"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, eris.Wrap(err, "feed: unmarshal article list")
	}
	return page.List, nil
}

// GetArticleDetail returns one article with its full HTML content.
func (c *httpClient) GetArticleDetail(ctx context.Context, externalID string) (*Article, error) {
	data, err := c.request(ctx, fmt.Sprintf("/articles/%s", url.PathEscape(externalID)), nil)
	if err != nil {
		return nil, err
	}

	var a Article
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrap(err, "feed: unmarshal article detail")
	}
	return &a, nil
}
