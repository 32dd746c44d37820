// Package conflict flags concurrent edits to a context artifact. The
// flag is advisory: callers are informed and may re-request with
// acknowledgment, they are never blocked.
package conflict

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/pkg/models"
)

// Report is the outcome of a conflict check.
type Report struct {
	// Flagged is true when another session touched the target recently.
	Flagged bool `json:"flagged"`
	// Sessions are the other sessions' IDs, most recent first.
	Sessions []string `json:"sessions,omitempty"`
}

// Detect scans the artifact's changelog for entries within the window
// authored by a session other than selfSession. Entries are assumed
// appended in time order; the scan walks from the newest end.
func Detect(changelog []models.ChangelogEntry, selfSession string, window time.Duration, now time.Time) Report {
	cutoff := now.Add(-window)

	var report Report
	seen := make(map[string]bool)
	for i := len(changelog) - 1; i >= 0; i-- {
		entry := changelog[i]
		if entry.Timestamp.Before(cutoff) {
			break
		}
		if entry.SessionID == "" || entry.SessionID == selfSession {
			continue
		}
		if !seen[entry.SessionID] {
			seen[entry.SessionID] = true
			report.Sessions = append(report.Sessions, entry.SessionID)
		}
	}

	if len(report.Sessions) > 0 {
		report.Flagged = true
		log.Info().
			Strs("sessions", report.Sessions).
			Str("self", selfSession).
			Msg("Concurrent edits detected on target")
	}
	return report
}
