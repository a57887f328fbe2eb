package domain

import (
	"encoding/json"
	"time"
)

// Entry is the canonical normalized representation of one feed item.
// ExternalID is derived from the feed-native guid, falling back to link and
// then title; it is stable for a given raw item but not globally unique
// across sources. Raw keeps the original item for forensic purposes.
type Entry struct {
	ExternalID  string
	SourceURL   string
	Title       string
	Company     string
	Location    string
	Type        string
	Description string
	Link        string
	PublishedAt *time.Time
	Raw         json.RawMessage
}

// Job is a persisted listing. Identity is the (SourceURL, ExternalID) pair,
// with (SourceURL, Link) as the fallback key for entries without an
// external id. Mutable fields are overwritten wholesale on update.
type Job struct {
	ID          int64           `json:"id"`
	ExternalID  string          `json:"externalId"`
	SourceURL   string          `json:"sourceUrl"`
	Title       string          `json:"title"`
	Company     string          `json:"company,omitempty"`
	Location    string          `json:"location,omitempty"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	Link        string          `json:"link,omitempty"`
	PublishedAt *time.Time      `json:"publishedAt,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}
