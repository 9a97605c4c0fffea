// Package fic defines core types shared across subsystems.
package fic

import (
	"time"
)

// Status is the normalized completion state of a work, derived from
// several source signals that are not reliably populated together.
type Status string

// Normalized status values.
const (
	StatusComplete   Status = "Complete"
	StatusInProgress Status = "In Progress"
	StatusAbandoned  Status = "Abandoned"
	StatusUnknown    Status = "Unknown"
)

// UnknownAuthor is the sentinel used when no author can be extracted.
const UnknownAuthor = "Unknown Author"

// WorkMetadata is the normalized result of one metadata fetch. It is
// constructed fresh per fetch and immutable once returned.
type WorkMetadata struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Summary string   `json:"summary,omitempty"`

	// Tag categories are always present, possibly empty, so downstream
	// consumers never have to null-check individual fields.
	Fandoms       []string `json:"fandoms"`
	Relationships []string `json:"relationships"`
	Characters    []string `json:"characters"`
	FreeformTags  []string `json:"freeform_tags"`
	Warnings      []string `json:"warnings"`
	Rating        string   `json:"rating,omitempty"`

	Words    int    `json:"words"`
	Chapters string `json:"chapters,omitempty"`
	Status   Status `json:"status"`
	Language string `json:"language,omitempty"`

	Published string `json:"published,omitempty"`
	Updated   string `json:"updated,omitempty"`
	Completed string `json:"completed,omitempty"`

	Kudos     int `json:"kudos"`
	Hits      int `json:"hits"`
	Bookmarks int `json:"bookmarks"`
	Comments  int `json:"comments"`

	// ParseWarnings carries non-fatal oddities seen during extraction,
	// such as unrecognized stat labels.
	ParseWarnings []string `json:"parse_warnings,omitempty"`

	// RawHTML is retained only when the fetch requested it.
	RawHTML string `json:"-"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Recommendation is a cataloged work plus the attribution recorded by
// the command layer when a community member adds it.
type Recommendation struct {
	ID          int64        `json:"id"`
	Work        WorkMetadata `json:"work"`
	RecordedBy  string       `json:"recorded_by"`
	RecordedAt  time.Time    `json:"recorded_at"`
	LastUpdated time.Time    `json:"last_updated"`
}

// ScrapeJob is one queued metadata fetch request.
type ScrapeJob struct {
	ID          string
	URL         string
	RequestedBy string
	Submitted   time.Time
	Attempt     int
}

// FetchOptions tunes a single fetch.
type FetchOptions struct {
	// KeepRawHTML retains the raw markup on the returned record.
	KeepRawHTML bool
}
