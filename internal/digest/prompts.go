package digest

import (
	"fmt"
	"strings"

	"github.com/fundradar/radar/internal/model"
)

const digestSystemPrompt = `You are an investment research editor. Write a concise end-of-day markdown digest of the analyzed articles below. Lead with actionable opportunities, then briefly cover the rest. Keep it under 600 words. Output raw markdown only.`

func digestUserPrompt(date string, verdicts []model.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\nArticles analyzed: %d\n\n", date, len(verdicts))
	for i, v := range verdicts {
		fmt.Fprintf(&b, "%d. %s (source: %s, score: %d, opportunity: %t)\n   %s\n",
			i+1, v.ItemTitle, v.ItemSource, v.Score, v.HasOpportunity, v.Summary)
	}
	return b.String()
}
