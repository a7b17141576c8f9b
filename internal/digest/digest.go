// Package digest builds the end-of-day markdown report. Generation
// never fails outright: when the model is unavailable or returns
// nothing usable, a deterministic template takes its place so the
// daily report always goes out.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
	"github.com/fundradar/radar/pkg/inference"
)

// summaryDoc is the structured sidecar stored next to the markdown.
type summaryDoc struct {
	Date          string         `json:"date"`
	ItemsAnalyzed int            `json:"items_analyzed"`
	Opportunities int            `json:"opportunities"`
	Top           []summaryEntry `json:"top,omitempty"`
	Generated     string         `json:"generated"` // "model" or "fallback"
}

type summaryEntry struct {
	Title string `json:"title"`
	Score int    `json:"score"`
}

// Generator aggregates a day's verdicts into a digest.
type Generator struct {
	store     store.Store
	inference inference.Client
}

// New creates a Generator. inference may be nil; generation then
// always uses the deterministic template.
func New(st store.Store, ic inference.Client) *Generator {
	return &Generator{store: st, inference: ic}
}

// Generate builds and stores the digest for date, overwriting any
// previous digest for the same date.
func (g *Generator) Generate(ctx context.Context, date string) (*model.DailyDigest, error) {
	verdicts, err := g.store.ListVerdictsForDate(ctx, date)
	if err != nil {
		return nil, eris.Wrap(err, "digest: list verdicts")
	}

	stats := model.DigestStats{ItemsAnalyzed: len(verdicts)}
	for _, v := range verdicts {
		if v.HasOpportunity {
			stats.OpportunitiesFound++
		}
	}

	markdown, generated := g.render(ctx, date, verdicts)

	summary := summaryDoc{
		Date:          date,
		ItemsAnalyzed: stats.ItemsAnalyzed,
		Opportunities: stats.OpportunitiesFound,
		Generated:     generated,
	}
	for i, v := range verdicts {
		if i >= 5 {
			break
		}
		summary.Top = append(summary.Top, summaryEntry{Title: v.ItemTitle, Score: v.Score})
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, eris.Wrap(err, "digest: marshal summary")
	}

	d := &model.DailyDigest{
		Date:     date,
		Markdown: markdown,
		Summary:  summaryJSON,
		Stats:    stats,
	}
	if err := g.store.UpsertDailyDigest(ctx, d); err != nil {
		return nil, eris.Wrap(err, "digest: store digest")
	}

	zap.L().Info("digest generated",
		zap.String("date", date),
		zap.Int("items", stats.ItemsAnalyzed),
		zap.Int("opportunities", stats.OpportunitiesFound),
		zap.String("generated", generated))
	return d, nil
}

// render tries the model first and falls back to the template. The
// returned label records which path produced the markdown.
func (g *Generator) render(ctx context.Context, date string, verdicts []model.Verdict) (string, string) {
	if len(verdicts) == 0 {
		return emptyDayMarkdown(date), "fallback"
	}
	if g.inference != nil {
		md, err := g.modelDigest(ctx, date, verdicts)
		if err != nil {
			zap.L().Warn("model digest failed, using template",
				zap.String("date", date),
				zap.Error(err))
		} else if strings.TrimSpace(md) != "" {
			return md, "model"
		}
	}
	return fallbackMarkdown(date, verdicts), "fallback"
}

func (g *Generator) modelDigest(ctx context.Context, date string, verdicts []model.Verdict) (string, error) {
	resp, err := g.inference.ChatCompletion(ctx, inference.ChatCompletionRequest{
		Messages: []inference.Message{
			{Role: "system", Content: digestSystemPrompt},
			{Role: "user", Content: digestUserPrompt(date, verdicts)},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content(), nil
}

func emptyDayMarkdown(date string) string {
	return fmt.Sprintf("# 📊 Daily radar %s\n\nNo articles were analyzed today.\n", date)
}

// fallbackMarkdown renders the deterministic digest: opportunities
// first with their summaries, then one line per remaining article.
func fallbackMarkdown(date string, verdicts []model.Verdict) string {
	var opportunities, others []model.Verdict
	for _, v := range verdicts {
		if v.HasOpportunity {
			opportunities = append(opportunities, v)
		} else {
			others = append(others, v)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# 📊 Daily radar %s\n\n", date)
	fmt.Fprintf(&b, "Analyzed %d articles, %d with opportunities.\n", len(verdicts), len(opportunities))

	if len(opportunities) > 0 {
		fmt.Fprintf(&b, "\n## 🎯 Opportunities (%d)\n", len(opportunities))
		for _, v := range opportunities {
			fmt.Fprintf(&b, "\n### %s (score %d)\n", v.ItemTitle, v.Score)
			if v.ItemSource != "" {
				fmt.Fprintf(&b, "*%s*\n\n", v.ItemSource)
			}
			fmt.Fprintf(&b, "%s\n", v.Summary)
		}
	}
	if len(others) > 0 {
		fmt.Fprintf(&b, "\n## 📄 Also covered (%d)\n", len(others))
		for _, v := range others {
			fmt.Fprintf(&b, "- %s (score %d)\n", v.ItemTitle, v.Score)
		}
	}
	return b.String()
}
