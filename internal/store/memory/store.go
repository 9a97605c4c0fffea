// Package memory provides an in-memory recommendation store for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fandomtools/ficbot/internal/fic"
)

// ErrNotFound indicates no recommendation exists for the given URL.
var ErrNotFound = errors.New("recommendation not found")

// Store keeps recommendations in a mutex-guarded map keyed by URL.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	byURL  map[string]fic.Recommendation
}

// New constructs a Store.
func New() *Store {
	return &Store{byURL: make(map[string]fic.Recommendation)}
}

// Upsert inserts or updates the recommendation for its work URL.
func (s *Store) Upsert(_ context.Context, rec fic.Recommendation) (fic.Recommendation, error) {
	if rec.Work.URL == "" {
		return fic.Recommendation{}, errors.New("work url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.byURL[rec.Work.URL]
	if ok {
		rec.ID = existing.ID
		rec.RecordedAt = existing.RecordedAt
		if rec.RecordedBy == "" {
			rec.RecordedBy = existing.RecordedBy
		}
	} else {
		s.nextID++
		rec.ID = s.nextID
		rec.RecordedAt = now
	}
	rec.LastUpdated = now
	s.byURL[rec.Work.URL] = rec
	return rec, nil
}

// GetByURL fetches a recommendation by its work URL.
func (s *Store) GetByURL(_ context.Context, url string) (fic.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byURL[url]
	if !ok {
		return fic.Recommendation{}, ErrNotFound
	}
	return rec, nil
}

// Search returns recommendations whose title, author or fandom contains
// the query, case-insensitively.
func (s *Store) Search(_ context.Context, query string, limit int) ([]fic.Recommendation, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []fic.Recommendation
	for _, rec := range s.byURL {
		if q == "" || matches(rec, q) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the recommendation for a work URL.
func (s *Store) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[url]; !ok {
		return ErrNotFound
	}
	delete(s.byURL, url)
	return nil
}

// List returns recommendations ordered by insertion.
func (s *Store) List(_ context.Context, limit, offset int) ([]fic.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]fic.Recommendation, 0, len(s.byURL))
	for _, rec := range s.byURL {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func matches(rec fic.Recommendation, q string) bool {
	if strings.Contains(strings.ToLower(rec.Work.Title), q) {
		return true
	}
	for _, a := range rec.Work.Authors {
		if strings.Contains(strings.ToLower(a), q) {
			return true
		}
	}
	for _, f := range rec.Work.Fandoms {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
