// Package models contains domain models for shiftbook.
package models

import (
	"time"
)

// SessionStatus represents the lifecycle status of an agent session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Session represents one agent's unit of work from clock-in to clock-out.
// A session is exclusively owned by the process that created it; it lives
// as a registry entry plus a uniquely-named subdirectory under the project
// context root.
type Session struct {
	ID             string        `json:"session_id"`
	Focus          string        `json:"focus"`
	CreatedAt      time.Time     `json:"created_at"`
	ProjectRoot    string        `json:"project_root"`
	WorkingDir     string        `json:"working_dir"`
	IsAnchorMode   bool          `json:"is_anchor_mode"`
	TranscriptHint string        `json:"transcript_hint,omitempty"`
	Status         SessionStatus `json:"status"`
}

// Age returns how long the session has existed relative to now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// SessionPaths holds the resolved locations returned by clock-in. A path
// is empty when the corresponding file does not exist; absence is not an
// error, the agent simply starts without that context.
type SessionPaths struct {
	ContextFile     string `json:"context_file,omitempty"`
	ConstraintsFile string `json:"constraints_file,omitempty"`
	SessionDir      string `json:"session_dir"`
}

// FocusConflict describes an advisory overlap between the focus of a new
// session and an already-active one. It informs, it never blocks.
type FocusConflict struct {
	SessionID string `json:"session_id"`
	Focus     string `json:"focus"`
}
