// Package registry tracks active sessions in a single source-of-truth
// JSON file. Every mutation rewrites the file atomically; there is no
// process-wide singleton, callers hold an explicit Registry.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/pkg/models"
)

// FileName is the registry file inside the project context root.
const FileName = "sessions.json"

// Registry is the set of active sessions for one project. Safe for use
// from multiple goroutines; cross-process safety comes from the atomic
// replace of the backing file.
type Registry struct {
	path string

	mu       sync.Mutex
	sessions map[string]models.Session
}

type fileFormat struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Sessions  []models.Session `json:"sessions"`
}

// Open loads the registry at dir/sessions.json, creating an empty one if
// absent. A corrupt file is non-fatal: it is preserved as a .corrupt
// sibling, logged, and replaced with an empty registry.
func Open(dir string) (*Registry, error) {
	path := filepath.Join(dir, FileName)
	r := &Registry{
		path:     path,
		sessions: make(map[string]models.Session),
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is inside the validated context root
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var file fileFormat
	if err := json.Unmarshal(data, &file); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Corrupt session registry, starting fresh")
		if backupErr := os.WriteFile(path+".corrupt", data, 0o644); backupErr != nil {
			log.Warn().Err(backupErr).Msg("Could not preserve corrupt registry")
		}
		return r, nil
	}

	for _, sess := range file.Sessions {
		r.sessions[sess.ID] = sess
	}
	return r, nil
}

// Add records a session and persists the registry. Adding an ID that is
// already present overwrites the stale record, matching the non-fatal
// handling of corrupt session state.
func (r *Registry) Add(sess models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.ID]; exists {
		log.Warn().Str("session_id", sess.ID).Msg("Overwriting existing registry entry")
	}
	r.sessions[sess.ID] = sess
	return r.flushLocked()
}

// Remove deletes a session entry and persists the registry. Removing an
// unknown ID is a no-op, which keeps the reaper idempotent.
func (r *Registry) Remove(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; !exists {
		return nil
	}
	delete(r.sessions, sessionID)
	return r.flushLocked()
}

// Get returns the session with the given ID.
func (r *Registry) Get(sessionID string) (models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// Active returns all registered sessions in unspecified order.
func (r *Registry) Active() []models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// FindByFocus returns sessions whose focus overlaps the given one,
// excluding selfID. Overlap is case-insensitive containment in either
// direction; "refactor-auth" collides with "refactor-auth cleanup".
func (r *Registry) FindByFocus(focus, selfID string) []models.FocusConflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(focus))
	if needle == "" {
		return nil
	}

	var conflicts []models.FocusConflict
	for _, sess := range r.sessions {
		if sess.ID == selfID {
			continue
		}
		other := strings.ToLower(strings.TrimSpace(sess.Focus))
		if other == "" {
			continue
		}
		if strings.Contains(other, needle) || strings.Contains(needle, other) {
			conflicts = append(conflicts, models.FocusConflict{
				SessionID: sess.ID,
				Focus:     sess.Focus,
			})
		}
	}
	return conflicts
}

// Path returns the backing file location.
func (r *Registry) Path() string {
	return r.path
}

// Flush rewrites the backing file from the in-memory state. Used to
// restore the registry when the file is deleted out from under a live
// process.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Registry) flushLocked() error {
	file := fileFormat{
		UpdatedAt: time.Now().UTC(),
		Sessions:  make([]models.Session, 0, len(r.sessions)),
	}
	for _, sess := range r.sessions {
		file.Sessions = append(file.Sessions, sess)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := fsx.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
