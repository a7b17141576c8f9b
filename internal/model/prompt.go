package model

import "time"

// PromptConfig is a named, versioned prompt. Exactly one version per
// name may be active at a time; the active row is swapped by an admin
// action outside the pipeline and only read here.
type PromptConfig struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Version      int       `json:"version"`
	Active       bool      `json:"active"`
	Threshold    int       `json:"threshold"`
	SystemPrompt string    `json:"system_prompt"`
	UserTemplate string    `json:"user_template"`
	CreatedAt    time.Time `json:"created_at"`
}

// PromptAnalyzer and PromptDigest are the config names the pipeline
// looks up.
const (
	PromptAnalyzer = "opportunity_analyzer"
	PromptDigest   = "daily_digest"
)
