package model

import "time"

// DailyDigest is the end-of-day aggregation for one calendar date.
// Regenerating a date overwrites the row in place.
type DailyDigest struct {
	ID        string      `json:"id"`
	Date      string      `json:"date"` // YYYY-MM-DD, unique
	Markdown  string      `json:"digest_md"`
	Summary   []byte      `json:"-"` // structured digest JSON
	Stats     DigestStats `json:"stats"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// DigestStats summarizes the day for the digest card.
type DigestStats struct {
	ItemsAnalyzed      int `json:"items_analyzed"`
	OpportunitiesFound int `json:"opportunities_found"`
}
