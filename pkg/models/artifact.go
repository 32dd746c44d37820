package models

import "time"

// ChangelogEntry records one accepted write to a context artifact. The
// conflict detector uses the author session ID to tell a session
// re-writing its own change apart from genuine overlap.
type ChangelogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
}

// Artifact is a named, bounded-size document representing current project
// truth. LineCount must stay at or below the configured ceiling; overflow
// is relocated verbatim to the artifact's history file, never discarded.
type Artifact struct {
	Path      string
	Content   string
	LineCount int
	Changelog []ChangelogEntry
}
