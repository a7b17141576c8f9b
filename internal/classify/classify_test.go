package classify

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
	"github.com/fundradar/radar/pkg/inference"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, EnsureDefaultPrompt(context.Background(), st))
	return st
}

// scriptedInference returns canned responses in order, recording the
// prompts it received.
type scriptedInference struct {
	responses []string
	errs      []error
	requests  []inference.ChatCompletionRequest
}

func (s *scriptedInference) ChatCompletion(_ context.Context, req inference.ChatCompletionRequest) (*inference.ChatCompletionResponse, error) {
	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	resp := &inference.ChatCompletionResponse{Choices: make([]inference.Choice, 1)}
	resp.Choices[0].Message.Content = s.responses[idx]
	return resp, nil
}

func seedItem(t *testing.T, st store.Store) *model.Item {
	t.Helper()
	item := &model.Item{
		ExternalID:  "ext-1",
		SourceName:  "Tech Daily",
		Title:       "Acme files for IPO",
		Text:        "Acme plans a placement next month.",
		PublishedAt: time.Now().UTC().Truncate(time.Second),
		ContentHash: "h1",
		Status:      model.ItemStatusPending,
	}
	require.NoError(t, st.CreateItem(context.Background(), item))
	return item
}

const validDoc = `{"score":82,"has_opportunity":true,"summary":"Acme IPO placement opening soon.","opportunities":[{"type":"ipo_placement","title":"Acme IPO","confidence":0.8,"action_steps":["contact broker"]}]}`

func TestAnalyze_ValidFirstAttempt(t *testing.T) {
	st := newTestStore(t)
	si := &scriptedInference{responses: []string{validDoc}}
	c := New(st, si, "deepseek-reasoner")

	item := seedItem(t, st)
	verdict, err := c.Analyze(context.Background(), item, "run-1")
	require.NoError(t, err)
	require.Len(t, si.requests, 1)

	assert.Equal(t, 82, verdict.Score)
	assert.True(t, verdict.HasOpportunity)
	assert.Equal(t, "run-1", verdict.RunID)
	assert.Equal(t, "deepseek-reasoner", verdict.Model)

	// JSON mode is always requested and the article is rendered into
	// the user prompt.
	req := si.requests[0]
	assert.Equal(t, inference.JSONObject, req.ResponseFormat)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "Acme files for IPO")
	assert.Contains(t, req.Messages[1].Content, "Tech Daily")

	got, err := st.GetItemByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusDone, got.Status)
}

func TestAnalyze_EscalatesThenSucceeds(t *testing.T) {
	st := newTestStore(t)
	si := &scriptedInference{responses: []string{
		"I think this article is interesting because...",
		`{"score":82}`,
		"```json\n" + validDoc + "\n```",
	}}
	c := New(st, si, "deepseek-reasoner")

	item := seedItem(t, st)
	verdict, err := c.Analyze(context.Background(), item, "run-1")
	require.NoError(t, err)
	require.Len(t, si.requests, 3)
	assert.Equal(t, 82, verdict.Score)

	// Retries carry escalating instructions; the first attempt does not.
	assert.NotContains(t, si.requests[0].Messages[1].Content, "ONLY the JSON object")
	assert.Contains(t, si.requests[1].Messages[1].Content, "ONLY the JSON object")
	assert.Contains(t, si.requests[2].Messages[1].Content, "STRICT MODE")
}

func TestAnalyze_ExhaustedAttemptsMarksItemFailed(t *testing.T) {
	st := newTestStore(t)
	si := &scriptedInference{responses: []string{"nope", "still nope", "{broken"}}
	c := New(st, si, "deepseek-reasoner")

	item := seedItem(t, st)
	_, err := c.Analyze(context.Background(), item, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable after 3 attempts")
	assert.Len(t, si.requests, 3)

	got, err := st.GetItemByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusFailed, got.Status)
	assert.NotNil(t, got.AnalyzedAt)
}

func TestAnalyze_TransportErrorDoesNotRetry(t *testing.T) {
	st := newTestStore(t)
	si := &scriptedInference{
		responses: []string{"", "", ""},
		errs:      []error{eris.New("inference: unexpected status 429")},
	}
	c := New(st, si, "deepseek-reasoner")

	item := seedItem(t, st)
	_, err := c.Analyze(context.Background(), item, "run-1")
	require.Error(t, err)
	assert.Len(t, si.requests, 1)

	// The item stays pending for the next run.
	got, err := st.GetItemByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusPending, got.Status)
}

func TestAnalyze_OpportunitiesPreserveOrder(t *testing.T) {
	st := newTestStore(t)
	doc := `{"score":70,"has_opportunity":true,"summary":"Two windows.","opportunities":[` +
		`{"type":"fund_window","title":"First","confidence":0.6},` +
		`{"type":"pre_ipo","title":"Second","confidence":0.4}]}`
	si := &scriptedInference{responses: []string{doc}}
	c := New(st, si, "deepseek-reasoner")

	item := seedItem(t, st)
	verdict, err := c.Analyze(context.Background(), item, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 70, verdict.Score)

	verdicts, err := st.ListVerdictsForDate(context.Background(), item.PublishedAt.Format("2006-01-02"))
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
}

func TestParseVerdictDocument(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{name: "valid", in: validDoc},
		{name: "fenced", in: "```json\n" + validDoc + "\n```"},
		{name: "prose wrapped", in: "Here you go: " + validDoc + " hope that helps"},
		{name: "empty", in: "", wantErr: "empty response"},
		{name: "missing score", in: `{"has_opportunity":false,"summary":"x"}`, wantErr: "missing score"},
		{name: "score out of range", in: `{"score":150,"has_opportunity":false,"summary":"x"}`, wantErr: "out of range"},
		{name: "missing has_opportunity", in: `{"score":10,"summary":"x"}`, wantErr: "missing has_opportunity"},
		{name: "blank summary", in: `{"score":10,"has_opportunity":false,"summary":"  "}`, wantErr: "missing summary"},
		{name: "untitled opportunity", in: `{"score":10,"has_opportunity":true,"summary":"x","opportunities":[{"type":"other","confidence":0.5}]}`, wantErr: "missing title"},
		{name: "bad confidence", in: `{"score":10,"has_opportunity":true,"summary":"x","opportunities":[{"title":"t","confidence":1.5}]}`, wantErr: "confidence out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, raw, err := ParseVerdictDocument(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 82, *doc.Score)
			// Stored bytes are the cleaned JSON, not the wrapper.
			assert.True(t, strings.HasPrefix(string(raw), "{"))
		})
	}
}

func TestEnsureDefaultPrompt_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// newTestStore already seeded once; seeding again must not add a
	// second version.
	require.NoError(t, EnsureDefaultPrompt(ctx, st))

	active, err := st.GetActivePromptConfig(ctx, model.PromptAnalyzer)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 1, active.Version)
	assert.Equal(t, 60, active.Threshold)
}
