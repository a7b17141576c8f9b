package model

import "time"

// Verdict is the classification output for one item, 1:1 with the item
// and immutable once persisted.
type Verdict struct {
	ID             string    `json:"id"`
	ItemID         string    `json:"item_id"`
	RunID          string    `json:"run_id,omitempty"`
	PromptConfigID string    `json:"prompt_config_id,omitempty"`
	Model          string    `json:"model"`
	Score          int       `json:"score"` // 0-100
	HasOpportunity bool      `json:"has_opportunity"`
	Document       []byte    `json:"-"` // raw validated result JSON
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`

	// Denormalized item fields populated by ListVerdictsForDate for
	// digest aggregation and dashboard listings.
	ItemTitle       string    `json:"item_title,omitempty"`
	ItemSource      string    `json:"item_source,omitempty"`
	ItemPublishedAt time.Time `json:"item_published_at,omitempty"`
}

// OpportunityRecord is one opportunity extracted from a verdict's
// structured document, ordered by its index in the source array.
type OpportunityRecord struct {
	ID          string     `json:"id"`
	VerdictID   string     `json:"verdict_id"`
	Index       int        `json:"index"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Confidence  float64    `json:"confidence"` // 0..1
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	ActionSteps []string   `json:"action_steps"`
	Constraints []string   `json:"constraints"`
	SearchHints []string   `json:"search_hints"`
	CreatedAt   time.Time  `json:"created_at"`
}
