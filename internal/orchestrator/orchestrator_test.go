package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundradar/radar/internal/classify"
	"github.com/fundradar/radar/internal/digest"
	"github.com/fundradar/radar/internal/ingest"
	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/notify"
	"github.com/fundradar/radar/internal/registry"
	"github.com/fundradar/radar/internal/store"
	"github.com/fundradar/radar/pkg/dingtalk"
	"github.com/fundradar/radar/pkg/feed"
	"github.com/fundradar/radar/pkg/inference"
)

// fixture assembles a full pipeline over sqlite with fake externals.
type fixture struct {
	store store.Store
	feed  *fakeFeed
	infer *fakeInference
	bot   *fakeBot
	orch  *Orchestrator
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, classify.EnsureDefaultPrompt(ctx, st))

	f := &fixture{
		store: st,
		feed:  &fakeFeed{details: map[string]string{}},
		infer: &fakeInference{responses: map[string]string{}},
		bot:   &fakeBot{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	reg := registry.New(st, registry.WithClock(func() time.Time { return f.now }))
	in := ingest.New(st, f.feed)
	cl := classify.New(st, f.infer, "deepseek-reasoner")
	nt := notify.New(st, f.bot, "https://hook")
	dg := digest.New(st, nil)
	f.orch = New(st, reg, in, cl, nt, dg, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) addArticle(id string, age time.Duration, score int, hasOpp bool) {
	f.feed.articles = append(f.feed.articles, feed.Article{
		ID:          id,
		SourceName:  "Tech Daily",
		Title:       "Article " + id,
		PublishTime: f.now.Add(-age).Unix(),
	})
	f.feed.details[id] = "<p>Body of " + id + "</p>"
	f.infer.responses["Article "+id] = fmt.Sprintf(
		`{"score":%d,"has_opportunity":%t,"summary":"Summary of %s","opportunities":[{"type":"other","title":"Opp %s","confidence":0.7}]}`,
		score, hasOpp, id, id)
}

type fakeFeed struct {
	articles []feed.Article
	details  map[string]string
}

func (f *fakeFeed) ListArticles(_ context.Context, params feed.ListParams) ([]feed.Article, error) {
	if params.Offset >= len(f.articles) {
		return nil, nil
	}
	end := params.Offset + params.Limit
	if end > len(f.articles) {
		end = len(f.articles)
	}
	return f.articles[params.Offset:end], nil
}

func (f *fakeFeed) GetArticleDetail(_ context.Context, externalID string) (*feed.Article, error) {
	for _, a := range f.articles {
		if a.ID == externalID {
			detail := a
			detail.Content = f.details[externalID]
			return &detail, nil
		}
	}
	return nil, fmt.Errorf("no such article: %s", externalID)
}

// fakeInference matches a canned response by the article title found
// in the user prompt.
type fakeInference struct {
	mu        sync.Mutex
	responses map[string]string
	calls     int
}

func (f *fakeInference) ChatCompletion(_ context.Context, req inference.ChatCompletionRequest) (*inference.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	resp := &inference.ChatCompletionResponse{Choices: make([]inference.Choice, 1)}
	user := req.Messages[len(req.Messages)-1].Content
	for title, body := range f.responses {
		if strings.Contains(user, title) {
			resp.Choices[0].Message.Content = body
			return resp, nil
		}
	}
	resp.Choices[0].Message.Content = "no canned response"
	return resp, nil
}

type fakeBot struct {
	mu    sync.Mutex
	sends []string // titles
}

func (b *fakeBot) SendMarkdown(_ context.Context, title, _, _ string) (*dingtalk.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, title)
	return &dingtalk.Response{}, nil
}

func (b *fakeBot) SendText(_ context.Context, content, _ string) (*dingtalk.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, content)
	return &dingtalk.Response{}, nil
}

func TestExecuteSlot_FullPipeline(t *testing.T) {
	f := newFixture(t)
	f.addArticle("a1", 2*time.Hour, 85, true)
	f.addArticle("a2", 4*time.Hour, 30, false)

	res, err := f.orch.ExecuteSlot(context.Background(), "12:00", false)
	require.NoError(t, err)
	require.True(t, res.Executed)

	run := res.Run
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, "2025-06-01", run.Date)
	assert.Equal(t, 2, run.Stats.ItemsFetched)
	assert.Equal(t, 2, run.Stats.ItemsNew)
	assert.Equal(t, 2, run.Stats.ItemsAnalyzed)
	assert.Equal(t, 1, run.Stats.OpportunitiesFound)
	assert.Equal(t, 1, run.Stats.AlertsPushed)
	assert.False(t, run.Stats.DigestSent)

	// One alert went out, for the high-score article only.
	require.Len(t, f.bot.sends, 1)
	assert.Contains(t, f.bot.sends[0], "Article a1")
}

func TestExecuteSlot_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addArticle("a1", 2*time.Hour, 85, true)

	res, err := f.orch.ExecuteSlot(context.Background(), "12:00", false)
	require.NoError(t, err)
	require.True(t, res.Executed)
	firstCalls := f.infer.calls

	// Re-triggering the same slot returns the finished run untouched.
	res, err = f.orch.ExecuteSlot(context.Background(), "12:00", false)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, model.RunStatusSucceeded, res.Run.Status)
	assert.Equal(t, firstCalls, f.infer.calls)
	assert.Len(t, f.bot.sends, 1)
}

func TestExecuteSlot_LastSlotSendsDigestNotAlerts(t *testing.T) {
	f := newFixture(t)
	f.addArticle("a1", 2*time.Hour, 85, true)

	res, err := f.orch.ExecuteSlot(context.Background(), "22:00", false)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Run.Stats.AlertsPushed)
	assert.True(t, res.Run.Stats.DigestSent)
	require.Len(t, f.bot.sends, 1)
	assert.Contains(t, f.bot.sends[0], "Daily report")

	d, err := f.store.GetDailyDigest(context.Background(), "2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Contains(t, d.Markdown, "Article a1")
}

func TestExecuteSlot_EmptyDayStillSendsDigest(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.ExecuteSlot(context.Background(), "22:00", false)
	require.NoError(t, err)
	assert.True(t, res.Run.Stats.DigestSent)
	require.Len(t, f.bot.sends, 1)

	d, err := f.store.GetDailyDigest(context.Background(), "2025-06-01")
	require.NoError(t, err)
	assert.Contains(t, d.Markdown, "No articles were analyzed today.")
}

func TestExecuteSlot_UnparseableItemCountedFailed(t *testing.T) {
	f := newFixture(t)
	f.addArticle("a1", 2*time.Hour, 85, true)
	f.addArticle("a2", 3*time.Hour, 0, false)
	f.infer.responses["Article a2"] = "not json at all"

	res, err := f.orch.ExecuteSlot(context.Background(), "12:00", false)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSucceeded, res.Run.Status)
	assert.Equal(t, 1, res.Run.Stats.ItemsAnalyzed)
	assert.Equal(t, 1, res.Run.Stats.ItemsFailed)

	item, err := f.store.GetItemByExternalID(context.Background(), "a2")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusFailed, item.Status)
}

func TestExecuteSlot_ManualBlockedByRunningRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A fresh running run occupies the registry.
	blocker := &model.Run{
		Date: "2025-06-01", Slot: "07:00",
		WindowStart: f.now.AddDate(0, 0, -3), WindowEnd: f.now,
		Status: model.RunStatusRunning, StartedAt: f.now.Add(-1 * time.Minute),
	}
	_, err := f.store.CreateRun(ctx, blocker)
	require.NoError(t, err)

	_, err = f.orch.ExecuteSlot(ctx, "12:00", true)
	require.ErrorIs(t, err, registry.ErrRunInProgress)

	// Scheduled triggers are not blocked.
	res, err := f.orch.ExecuteSlot(ctx, "12:00", false)
	require.NoError(t, err)
	assert.True(t, res.Executed)
}

func TestExecuteSlot_ResumesCrashedRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addArticle("a1", 2*time.Hour, 85, true)

	// A worker crashed mid-run 45 minutes ago; its row is still
	// running and goes stale on the next reconcile.
	crashed := &model.Run{
		Date: "2025-06-01", Slot: "22:00",
		WindowStart: f.now.AddDate(0, 0, -3), WindowEnd: f.now,
		Status: model.RunStatusRunning, StartedAt: f.now.Add(-45 * time.Minute),
	}
	_, err := f.store.CreateRun(ctx, crashed)
	require.NoError(t, err)

	res, err := f.orch.ExecuteSlot(ctx, "22:00", false)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.Equal(t, model.RunStatusSucceeded, res.Run.Status)
	assert.True(t, res.Run.Stats.DigestSent)

	// The day still gets its digest.
	d, err := f.store.GetDailyDigest(ctx, "2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Contains(t, d.Markdown, "Article a1")
}

func TestExecuteSlot_ReExecutesFailedRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addArticle("a1", 2*time.Hour, 85, true)

	failed := &model.Run{
		Date: "2025-06-01", Slot: "12:00",
		WindowStart: f.now.AddDate(0, 0, -3), WindowEnd: f.now,
		Status: model.RunStatusFailed, StartedAt: f.now.Add(-2 * time.Hour),
		Error: "feed unreachable",
	}
	_, err := f.store.CreateRun(ctx, failed)
	require.NoError(t, err)

	res, err := f.orch.ExecuteSlot(ctx, "12:00", false)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.Equal(t, model.RunStatusSucceeded, res.Run.Status)
	assert.Empty(t, res.Run.Error)
	assert.Equal(t, 1, res.Run.Stats.AlertsPushed)
}

func TestExecuteSlot_ManualRunWithoutAlertsSendsSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addArticle("a1", 2*time.Hour, 30, false)

	res, err := f.orch.ExecuteSlot(ctx, "12:00", true)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.Equal(t, 0, res.Run.Stats.AlertsPushed)

	require.Len(t, f.bot.sends, 1)
	assert.Contains(t, f.bot.sends[0], "Manual run 2025-06-01 12:00")
	assert.Contains(t, f.bot.sends[0], "1 articles analyzed")

	n, err := f.store.CountNotifications(ctx, "2025-06-01", model.PushTypeSummary, model.NotificationSuccess)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExecuteSlot_ManualRunWithAlertsSkipsSummary(t *testing.T) {
	f := newFixture(t)
	f.addArticle("a1", 2*time.Hour, 85, true)

	_, err := f.orch.ExecuteSlot(context.Background(), "12:00", true)
	require.NoError(t, err)

	// The alert itself is the answer; no extra summary message.
	require.Len(t, f.bot.sends, 1)
	assert.Contains(t, f.bot.sends[0], "Article a1")
}

func TestExecuteSlot_EmptyContentItemsSkipped(t *testing.T) {
	f := newFixture(t)
	f.addArticle("a1", 2*time.Hour, 85, true)
	f.feed.details["a1"] = ""

	res, err := f.orch.ExecuteSlot(context.Background(), "12:00", false)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSucceeded, res.Run.Status)
	assert.Equal(t, 1, res.Run.Stats.ItemsSkipped)
	assert.Equal(t, 0, res.Run.Stats.ItemsAnalyzed)
	assert.Equal(t, 0, f.infer.calls)

	item, err := f.store.GetItemByExternalID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusSkipped, item.Status)
}

func TestExecuteSlot_PromptThresholdOverridesSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addArticle("a1", 2*time.Hour, 85, true)

	// v2 of the analyzer prompt raises the alert bar above a1's score.
	require.NoError(t, f.store.CreatePromptConfig(ctx, &model.PromptConfig{
		Name:         model.PromptAnalyzer,
		Version:      2,
		Threshold:    90,
		SystemPrompt: classify.DefaultSystemPrompt,
		UserTemplate: classify.DefaultUserTemplate,
	}))
	require.NoError(t, f.store.ActivatePromptConfig(ctx, model.PromptAnalyzer, 2))

	res, err := f.orch.ExecuteSlot(ctx, "12:00", false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Run.Stats.OpportunitiesFound)
	assert.Equal(t, 0, res.Run.Stats.AlertsPushed)
	assert.Empty(t, f.bot.sends)
}

func TestExecuteSlot_DedupAcrossSlots(t *testing.T) {
	f := newFixture(t)
	f.addArticle("a1", 2*time.Hour, 85, true)

	_, err := f.orch.ExecuteSlot(context.Background(), "07:00", false)
	require.NoError(t, err)

	// The item was analyzed in the first slot; the second slot sees a
	// duplicate and nothing pending.
	res, err := f.orch.ExecuteSlot(context.Background(), "12:00", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Stats.ItemsSkipped)
	assert.Equal(t, 0, res.Run.Stats.ItemsNew)
	assert.Equal(t, 0, res.Run.Stats.ItemsAnalyzed)

	// Alert keys differ per slot but the gate already pushed in the
	// first slot; no new verdicts means no new alerts.
	require.Len(t, f.bot.sends, 1)
}
