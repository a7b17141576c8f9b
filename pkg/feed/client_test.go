package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedServer simulates the upstream API: /auth/token issues tokens,
// /articles and /articles/{id} require a valid one.
type feedServer struct {
	*httptest.Server
	logins   atomic.Int32
	lists    atomic.Int32
	validTok string
}

func newFeedServer(t *testing.T, articles []Article) *feedServer {
	t.Helper()
	fs := &feedServer{validTok: "tok-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/wx/auth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "admin", r.FormValue("username"))
		fs.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fs.validTok,
			"expires_in":   259200,
		})
	})
	mux.HandleFunc("GET /api/v1/wx/articles", func(w http.ResponseWriter, r *http.Request) {
		fs.lists.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+fs.validTok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"list": articles},
		})
	})
	mux.HandleFunc("GET /api/v1/wx/articles/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fs.validTok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": Article{ID: r.PathValue("id"), Title: "detail", Content: "<p>body</p>"},
		})
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func TestListArticles(t *testing.T) {
	srv := newFeedServer(t, []Article{
		{ID: "a1", Title: "first", PublishTime: 1767950000},
		{ID: "a2", Title: "second", PublishTime: 1767940000},
	})
	client := NewClient("admin", "secret", WithBaseURL(srv.URL))

	got, err := client.ListArticles(context.Background(), ListParams{Limit: 50})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, int32(1), srv.logins.Load())

	// Second call reuses the cached token.
	_, err = client.ListArticles(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.logins.Load())
}

func TestGetArticleDetail(t *testing.T) {
	srv := newFeedServer(t, nil)
	client := NewClient("admin", "secret", WithBaseURL(srv.URL))

	a, err := client.GetArticleDetail(context.Background(), "a9")
	require.NoError(t, err)
	assert.Equal(t, "a9", a.ID)
	assert.Equal(t, "<p>body</p>", a.Content)
}

func TestRequestRetriesOnceAfter401(t *testing.T) {
	srv := newFeedServer(t, []Article{{ID: "a1"}})
	client := NewClient("admin", "secret", WithBaseURL(srv.URL))

	// Prime a token, then invalidate it server-side.
	_, err := client.ListArticles(context.Background(), ListParams{})
	require.NoError(t, err)
	srv.validTok = "tok-2"

	got, err := client.ListArticles(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	// One failed list + relogin + retried list.
	assert.Equal(t, int32(2), srv.logins.Load())
	assert.Equal(t, int32(3), srv.lists.Load())
}

func TestListArticlesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/wx/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 100})
	})
	mux.HandleFunc("GET /api/v1/wx/articles", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 500})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient("admin", "secret", WithBaseURL(srv.URL))
	_, err := client.ListArticles(context.Background(), ListParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api code 500")
}

func TestPublishedAt(t *testing.T) {
	a := Article{PublishTime: 1767950000}
	assert.Equal(t, int64(1767950000), a.PublishedAt().Unix())
	assert.Equal(t, "UTC", a.PublishedAt().Location().String())
}
