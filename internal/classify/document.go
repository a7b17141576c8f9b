package classify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// VerdictDocument is the JSON contract the analysis model must return.
// Required fields are pointers so a missing key is distinguishable
// from a zero value.
type VerdictDocument struct {
	Score          *int             `json:"score"`
	HasOpportunity *bool            `json:"has_opportunity"`
	Summary        *string          `json:"summary"`
	Opportunities  []OpportunityDoc `json:"opportunities,omitempty"`
}

// OpportunityDoc describes one actionable opportunity in a verdict.
type OpportunityDoc struct {
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Confidence  float64    `json:"confidence"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	ActionSteps []string   `json:"action_steps,omitempty"`
	Constraints []string   `json:"constraints,omitempty"`
	SearchHints []string   `json:"search_hints,omitempty"`
}

// ParseVerdictDocument decodes and validates a model response. The
// raw bytes of the cleaned JSON are returned for storage so the
// persisted document is exactly what was parsed.
func ParseVerdictDocument(raw string) (*VerdictDocument, []byte, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, nil, eris.New("classify: empty response")
	}

	var doc VerdictDocument
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, eris.Wrap(err, "classify: decode verdict document")
	}
	if err := doc.Validate(); err != nil {
		return nil, nil, err
	}
	return &doc, []byte(cleaned), nil
}

// Validate checks required fields and value ranges.
func (d *VerdictDocument) Validate() error {
	switch {
	case d.Score == nil:
		return eris.New("classify: missing score")
	case *d.Score < 0 || *d.Score > 100:
		return eris.Errorf("classify: score out of range: %d", *d.Score)
	case d.HasOpportunity == nil:
		return eris.New("classify: missing has_opportunity")
	case d.Summary == nil || strings.TrimSpace(*d.Summary) == "":
		return eris.New("classify: missing summary")
	}
	for i, opp := range d.Opportunities {
		if strings.TrimSpace(opp.Title) == "" {
			return eris.Errorf("classify: opportunity %d missing title", i)
		}
		if opp.Confidence < 0 || opp.Confidence > 1 {
			return eris.Errorf("classify: opportunity %d confidence out of range: %f", i, opp.Confidence)
		}
	}
	return nil
}

// cleanJSON strips markdown code fences and surrounding prose that
// models sometimes wrap around JSON output.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	// Trim anything before the first brace and after the last.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
