package model

import "time"

// ItemStatus represents the analysis state of a content item.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusDone    ItemStatus = "done"
	ItemStatusSkipped ItemStatus = "skipped"
	ItemStatusFailed  ItemStatus = "failed"
)

// Item is a single fetched content unit. Items are identified by the
// upstream feed's id and are never deleted; only the analysis status
// mutates after creation.
type Item struct {
	ID          string     `json:"id"`
	ExternalID  string     `json:"external_id"`
	SourceID    string     `json:"source_id"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt time.Time  `json:"published_at"`
	RawHTML     string     `json:"raw_html,omitempty"`
	Text        string     `json:"text"`
	ContentHash string     `json:"content_hash"`
	Status      ItemStatus `json:"status"`
	FetchedAt   time.Time  `json:"fetched_at"`
	AnalyzedAt  *time.Time `json:"analyzed_at,omitempty"`
}
