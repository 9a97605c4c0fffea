package fic

import (
	"context"
	"errors"
	"time"
)

// Scraper fetches normalized metadata for one work URL.
type Scraper interface {
	FetchMetadata(ctx context.Context, url string, opts FetchOptions) (WorkMetadata, error)
}

// WorkStore persists cataloged recommendations.
type WorkStore interface {
	Upsert(ctx context.Context, rec Recommendation) (Recommendation, error)
	GetByURL(ctx context.Context, url string) (Recommendation, error)
	Search(ctx context.Context, query string, limit int) ([]Recommendation, error)
	Delete(ctx context.Context, url string) error
	List(ctx context.Context, limit, offset int) ([]Recommendation, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, job ScrapeJob) error
	Dequeue(ctx context.Context) (ScrapeJob, error)
}

// ErrQueueClosed is returned by queue implementations once Close has
// taken effect, so consumers can tell shutdown from a transient error.
var ErrQueueClosed = errors.New("queue closed")

// CredentialStore abstracts cookie-jar persistence so authentication
// logic never touches file paths directly.
type CredentialStore interface {
	Load() ([]Cookie, error)
	Save(cookies []Cookie) error
	Clear() error
}

// Cookie is one serialized authentication cookie, shaped after the
// browser-automation library's cookie export.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
