// Package cookies persists the authenticated session's cookie jar.
package cookies

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/fic"
)

// ErrNoCookies indicates no persisted jar exists.
var ErrNoCookies = errors.New("no cookies stored")

// jarMeta is the sibling metadata written alongside the cookie file.
type jarMeta struct {
	SavedAt  time.Time `json:"saved_at"`
	Username string    `json:"username"`
}

// FileStore persists the jar as a JSON array on local disk, with a
// sibling metadata file. Writes are atomic (temp file then rename) so a
// crash mid-save never leaves a truncated jar behind. Single-writer: no
// other process may touch these files.
type FileStore struct {
	path     string
	metaPath string
	username string
}

// NewFileStore creates a FileStore rooted at path.
func NewFileStore(path, username string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cookie path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create cookie dir: %w", err)
	}
	return &FileStore{
		path:     path,
		metaPath: path + ".meta",
		username: username,
	}, nil
}

// Load reads the persisted jar, returning ErrNoCookies if absent.
func (s *FileStore) Load() ([]fic.Cookie, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoCookies
		}
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	var jar []fic.Cookie
	if err := json.Unmarshal(raw, &jar); err != nil {
		return nil, fmt.Errorf("decode cookie file: %w", err)
	}
	if len(jar) == 0 {
		return nil, ErrNoCookies
	}
	return jar, nil
}

// Save writes the jar atomically, then the metadata file.
func (s *FileStore) Save(jar []fic.Cookie) error {
	data, err := json.MarshalIndent(jar, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	if err := atomicWrite(s.path, data); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}

	meta, err := json.Marshal(jarMeta{SavedAt: time.Now().UTC(), Username: s.username})
	if err != nil {
		return fmt.Errorf("encode cookie metadata: %w", err)
	}
	if err := atomicWrite(s.metaPath, meta); err != nil {
		return fmt.Errorf("write cookie metadata: %w", err)
	}
	return nil
}

// Clear deletes the cookie file and its metadata. Missing files are not
// an error, so repeated invalidation is idempotent.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cookie file: %w", err)
	}
	if err := os.Remove(s.metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cookie metadata: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// MemoryFallback decorates a durable store with an in-process copy.
// When the durable save fails, the cookies survive in memory for this
// process lifetime only; the decorator warns that they will not survive
// a restart.
type MemoryFallback struct {
	mu     sync.Mutex
	inner  fic.CredentialStore
	cached []fic.Cookie
	logger *zap.Logger
}

// NewMemoryFallback wraps inner with an in-memory fallback copy.
func NewMemoryFallback(inner fic.CredentialStore, logger *zap.Logger) *MemoryFallback {
	return &MemoryFallback{inner: inner, logger: logger}
}

// Load prefers the durable store, falling back to the in-memory copy.
func (m *MemoryFallback) Load() ([]fic.Cookie, error) {
	jar, err := m.inner.Load()
	if err == nil {
		return jar, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cached) > 0 {
		return append([]fic.Cookie(nil), m.cached...), nil
	}
	return nil, err
}

// Save keeps the in-memory copy authoritative and attempts the durable
// write; a durable failure is downgraded to a warning.
func (m *MemoryFallback) Save(jar []fic.Cookie) error {
	m.mu.Lock()
	m.cached = append([]fic.Cookie(nil), jar...)
	m.mu.Unlock()

	if err := m.inner.Save(jar); err != nil {
		m.logger.Warn("cookie persistence failed, session will not survive a restart",
			zap.Error(err),
		)
	}
	return nil
}

// Clear purges both copies. The durable clear error, if any, is
// returned after the memory copy is dropped so the two can never
// disagree about an invalidated jar.
func (m *MemoryFallback) Clear() error {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	return m.inner.Clear()
}
