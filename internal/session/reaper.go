package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Reap removes sessions older than the configured maximum age: their
// directories and their registry entries. It is idempotent and safe to
// run concurrently with new clock-ins; only sessions past the threshold
// are touched, and removing an already-removed session is a no-op.
func (m *Manager) Reap(now time.Time) error {
	sessionsDir := filepath.Join(m.root, SessionsDirName)
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var group errgroup.Group
	group.SetLimit(4)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		sessionDir := filepath.Join(sessionsDir, sessionID)

		group.Go(func() error {
			if !m.isStale(sessionID, sessionDir, now) {
				return nil
			}
			if err := os.RemoveAll(sessionDir); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("Could not remove stale session dir")
				return nil
			}
			if err := m.reg.Remove(sessionID); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("Could not remove stale registry entry")
				return nil
			}
			log.Info().Str("session_id", sessionID).Msg("Reaped abandoned session")
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	// Registry entries whose directories are already gone
	for _, sess := range m.reg.Active() {
		if sess.Age(now) <= m.cfg.SessionMaxAge {
			continue
		}
		if _, err := os.Stat(filepath.Join(sessionsDir, sess.ID)); os.IsNotExist(err) {
			if err := m.reg.Remove(sess.ID); err != nil {
				log.Warn().Err(err).Str("session_id", sess.ID).Msg("Could not remove orphan registry entry")
			}
		}
	}
	return nil
}

// isStale decides from the session record, falling back to directory
// mtime when the record is unreadable (a corrupt record still ages out).
func (m *Manager) isStale(sessionID, sessionDir string, now time.Time) bool {
	if sess, err := readSessionFile(sessionDir); err == nil {
		return sess.Age(now) > m.cfg.SessionMaxAge
	}

	info, err := os.Stat(sessionDir)
	if err != nil {
		return false
	}
	if now.Sub(info.ModTime()) > m.cfg.SessionMaxAge {
		log.Warn().Str("session_id", sessionID).Msg("Reaping session with unreadable record by directory age")
		return true
	}
	return false
}
