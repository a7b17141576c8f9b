// Package classify runs articles through the inference model and
// converts validated responses into stored verdicts.
package classify

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
	"github.com/fundradar/radar/pkg/inference"
)

const maxAttempts = 3

// Classifier analyzes pending items with the active prompt config.
type Classifier struct {
	store     store.Store
	inference inference.Client
	model     string
}

// New creates a Classifier. modelName is recorded on each verdict.
func New(st store.Store, ic inference.Client, modelName string) *Classifier {
	return &Classifier{store: st, inference: ic, model: modelName}
}

// Analyze runs one item through the model and persists the verdict.
// Unparseable responses are retried up to three times with escalating
// instructions; after the last failure the item is marked failed so
// the next run does not pick it up again.
func (c *Classifier) Analyze(ctx context.Context, item *model.Item, runID string) (*model.Verdict, error) {
	prompt, err := c.store.GetActivePromptConfig(ctx, model.PromptAnalyzer)
	if err != nil {
		return nil, eris.Wrap(err, "classify: load prompt config")
	}
	if prompt == nil {
		return nil, eris.New("classify: no active analyzer prompt")
	}

	userPrompt := renderTemplate(prompt.UserTemplate, item)

	var doc *VerdictDocument
	var raw []byte
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.inference.ChatCompletion(ctx, inference.ChatCompletionRequest{
			ResponseFormat: inference.JSONObject,
			Messages: []inference.Message{
				{Role: "system", Content: prompt.SystemPrompt},
				{Role: "user", Content: userPrompt + escalations[attempt]},
			},
		})
		if err != nil {
			// Transport errors are not a prompt problem; bail out
			// without burning the remaining attempts.
			return nil, eris.Wrap(err, "classify: chat completion")
		}
		if reasoning := resp.Reasoning(); reasoning != "" {
			zap.L().Debug("model reasoning",
				zap.String("item_id", item.ID),
				zap.Int("reasoning_len", len(reasoning)))
		}

		doc, raw, lastErr = ParseVerdictDocument(resp.Content())
		if lastErr == nil {
			break
		}
		zap.L().Warn("invalid verdict document",
			zap.String("item_id", item.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	if lastErr != nil {
		if err := c.store.UpdateItemStatus(ctx, item.ID, model.ItemStatusFailed); err != nil {
			zap.L().Error("mark item failed", zap.String("item_id", item.ID), zap.Error(err))
		}
		return nil, eris.Wrapf(lastErr, "classify: item %s unparseable after %d attempts", item.ID, maxAttempts)
	}

	verdict := &model.Verdict{
		ItemID:         item.ID,
		RunID:          runID,
		PromptConfigID: prompt.ID,
		Model:          c.model,
		Score:          *doc.Score,
		HasOpportunity: *doc.HasOpportunity,
		Document:       raw,
		Summary:        *doc.Summary,
	}
	opps := opportunityRecords(doc)

	if err := c.store.CreateVerdict(ctx, verdict, opps); err != nil {
		return nil, eris.Wrap(err, "classify: store verdict")
	}

	zap.L().Info("item analyzed",
		zap.String("item_id", item.ID),
		zap.Int("score", verdict.Score),
		zap.Bool("has_opportunity", verdict.HasOpportunity),
		zap.Int("opportunities", len(opps)))
	return verdict, nil
}

// opportunityRecords flattens the document's opportunities preserving
// their order.
func opportunityRecords(doc *VerdictDocument) []model.OpportunityRecord {
	if len(doc.Opportunities) == 0 {
		return nil
	}
	records := make([]model.OpportunityRecord, 0, len(doc.Opportunities))
	for i, opp := range doc.Opportunities {
		records = append(records, model.OpportunityRecord{
			Index:       i,
			Type:        opp.Type,
			Title:       opp.Title,
			Confidence:  opp.Confidence,
			WindowStart: opp.WindowStart,
			WindowEnd:   opp.WindowEnd,
			ActionSteps: opp.ActionSteps,
			Constraints: opp.Constraints,
			SearchHints: opp.SearchHints,
		})
	}
	return records
}

func renderTemplate(tmpl string, item *model.Item) string {
	r := strings.NewReplacer(
		"{{title}}", item.Title,
		"{{source}}", item.SourceName,
		"{{published_at}}", item.PublishedAt.Format("2006-01-02 15:04"),
		"{{content}}", item.Text,
	)
	return r.Replace(tmpl)
}
