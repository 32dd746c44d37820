package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/internal/persist"
	"github.com/thebtf/shiftbook/pkg/models"
)

// ClockInResult is everything an agent needs to start working against a
// verified view of project state.
type ClockInResult struct {
	Session models.Session      `json:"session"`
	Paths   models.SessionPaths `json:"paths"`
	// Conflicts lists active sessions with overlapping focus. Advisory:
	// the agent may proceed, it is merely informed.
	Conflicts []models.FocusConflict `json:"conflicts,omitempty"`
}

// ClockIn opens a session for the given focus. transcriptHint, when
// known by the caller, is recorded so the resolver's first fallback can
// use it at clock-out.
func (m *Manager) ClockIn(focus, workingDir, transcriptHint string) (*ClockInResult, error) {
	sess := models.Session{
		ID:             uuid.NewString(),
		Focus:          focus,
		CreatedAt:      time.Now().UTC(),
		ProjectRoot:    m.root,
		WorkingDir:     workingDir,
		IsAnchorMode:   m.mode == persist.ModeAnchor,
		TranscriptHint: transcriptHint,
		Status:         models.SessionStatusActive,
	}

	conflicts := m.reg.FindByFocus(focus, sess.ID)
	if len(conflicts) > 0 {
		log.Warn().
			Str("focus", focus).
			Int("overlapping", len(conflicts)).
			Msg("Another active session holds an overlapping focus")
	}

	sessionDir := filepath.Join(m.root, SessionsDirName, sess.ID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := writeSessionFile(sessionDir, sess); err != nil {
		return nil, err
	}
	if err := m.reg.Add(sess); err != nil {
		return nil, err
	}

	if m.bumpClockInCounter() {
		m.runMaintenance()
	}

	result := &ClockInResult{
		Session:   sess,
		Conflicts: conflicts,
		Paths: models.SessionPaths{
			SessionDir:      sessionDir,
			ContextFile:     existingPath(filepath.Join(m.root, ContextFileName)),
			ConstraintsFile: persist.ConstraintsPath(m.root),
		},
	}

	log.Info().
		Str("session_id", sess.ID).
		Str("focus", focus).
		Bool("anchor_mode", sess.IsAnchorMode).
		Msg("Session clocked in")
	return result, nil
}

// runMaintenance sweeps stale sessions and trims old archives. Failures
// are logged, never fatal to the clock-in that triggered them.
func (m *Manager) runMaintenance() {
	if err := m.Reap(time.Now()); err != nil {
		log.Warn().Err(err).Msg("Stale session sweep failed")
	}
	if err := m.TrimArchives(time.Now()); err != nil {
		log.Warn().Err(err).Msg("Archive trim failed")
	}
}

// writeSessionFile persists the session record inside its directory. A
// corrupt record found there later is overwritten, not fatal.
func writeSessionFile(sessionDir string, sess models.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := fsx.WriteFileAtomic(filepath.Join(sessionDir, sessionFileName), data, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// readSessionFile loads a session record from its directory.
func readSessionFile(sessionDir string) (models.Session, error) {
	var sess models.Session
	data, err := os.ReadFile(filepath.Join(sessionDir, sessionFileName)) // #nosec G304 -- path is inside the context root
	if err != nil {
		return sess, err
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return sess, fmt.Errorf("decode session file: %w", err)
	}
	return sess, nil
}

func existingPath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
