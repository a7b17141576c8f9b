package classify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
)

// DefaultSystemPrompt is the v1 analyzer system prompt seeded on first
// migration. Operators version new prompts through prompt_configs.
const DefaultSystemPrompt = `You are an investment research analyst screening news articles for actionable investment opportunities: upcoming IPO placements, pre-IPO rounds, fund subscription windows, secondary block trades and similar time-bounded entry points.

Score each article from 0 to 100 for how actionable it is for an investor today. Report has_opportunity=true only when the article names a concrete opportunity with an identifiable entry path.

Respond with a single JSON object:
{
  "score": <0-100>,
  "has_opportunity": <bool>,
  "summary": "<2-3 sentence plain-language summary>",
  "opportunities": [
    {
      "type": "<ipo_placement|pre_ipo|fund_window|block_trade|other>",
      "title": "<short name>",
      "confidence": <0.0-1.0>,
      "window_start": "<RFC3339 timestamp or omit>",
      "window_end": "<RFC3339 timestamp or omit>",
      "action_steps": ["<step>"],
      "constraints": ["<eligibility or size constraint>"],
      "search_hints": ["<query to learn more>"]
    }
  ]
}

Output JSON only. No markdown, no commentary.`

// DefaultUserTemplate renders one article into the analysis request.
const DefaultUserTemplate = `Analyze the following article.

Source: {{source}}
Published: {{published_at}}
Title: {{title}}

{{content}}`

// escalations are appended to the user prompt on retries after an
// unparseable response, one per failed attempt.
var escalations = []string{
	"",
	"\n\nYour previous reply was not a valid JSON object matching the required schema. Reply with ONLY the JSON object, no markdown fences and no explanation.",
	"\n\nSTRICT MODE: output exactly one JSON object with the keys score (integer 0-100), has_opportunity (boolean), summary (string) and optionally opportunities (array). Any other output is a failure.",
}

// EnsureDefaultPrompt seeds the v1 analyzer prompt when no active
// config exists yet.
func EnsureDefaultPrompt(ctx context.Context, st store.Store) error {
	active, err := st.GetActivePromptConfig(ctx, model.PromptAnalyzer)
	if err != nil {
		return eris.Wrap(err, "classify: get active prompt")
	}
	if active != nil {
		return nil
	}
	return eris.Wrap(st.CreatePromptConfig(ctx, &model.PromptConfig{
		Name:         model.PromptAnalyzer,
		Version:      1,
		Active:       true,
		Threshold:    60,
		SystemPrompt: DefaultSystemPrompt,
		UserTemplate: DefaultUserTemplate,
	}), "classify: seed default prompt")
}
