package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/faults"
	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/internal/merge"
	"github.com/thebtf/shiftbook/internal/synth"
	"github.com/thebtf/shiftbook/pkg/models"
)

// ClockOutResult reports what clock-out achieved. Once the raw archive
// is on disk, downstream failures degrade the result instead of failing
// the operation: the raw data is already safe.
type ClockOutResult struct {
	// ArchivePath is the byte-for-byte copy of the raw transcript.
	ArchivePath string `json:"archive_path"`
	// Summary is the distilled session summary that reached the store.
	Summary string `json:"summary"`
	// Synthesized is true when the external delegate produced the summary.
	Synthesized bool `json:"synthesized"`
	// ContextUpdated is true when the primary context artifact (or event
	// log, in anchor mode) received the summary.
	ContextUpdated bool `json:"context_updated"`
	// Degraded lists the steps that fell back or failed after archival.
	Degraded []string `json:"degraded,omitempty"`
}

// ClockOut closes a session: resolve the raw transcript, archive it
// verbatim, distill it, push the distillate through the merge engine,
// and tear the session down. The session record is removed only after
// the archive is confirmed on disk.
func (m *Manager) ClockOut(ctx context.Context, sessionID string, signals synth.Signals) (*ClockOutResult, error) {
	sess, err := m.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}

	// The delegate can hold this operation open for a while; guard the
	// registry against an out-of-band wipe in the meantime.
	if guard, guardErr := m.reg.Watch(); guardErr == nil {
		defer guard.Stop()
	} else {
		log.Warn().Err(guardErr).Msg("Registry guard unavailable")
	}

	rawPath, err := m.resolver.Resolve(sess)
	if err != nil {
		// Distinct failure: no archive is created for an unlocatable
		// transcript, silence would masquerade as an empty session.
		return nil, fmt.Errorf("clock-out %s: %w", sessionID, err)
	}

	archivePath, err := m.archiveRaw(sess, rawPath)
	if err != nil {
		return nil, err
	}
	result := &ClockOutResult{ArchivePath: archivePath}

	// Raw bytes are safe; everything below degrades instead of failing.
	summary := m.distill(sess, rawPath, result)
	result.Summary = summary

	updateResult, err := m.engine.Update(ctx, merge.UpdateRequest{
		Target:    ContextFileName,
		Content:   summary,
		SessionID: sess.ID,
		Reason:    fmt.Sprintf("clock-out: %s", sess.Focus),
		Delegated: true,
		Signals:   signals,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("Context sync failed after archival")
		result.Degraded = append(result.Degraded, fmt.Sprintf("context sync: %v", err))
	} else {
		result.ContextUpdated = true
		result.Synthesized = updateResult.Delegated
		if updateResult.Conflict.Flagged {
			result.Degraded = append(result.Degraded,
				fmt.Sprintf("concurrent edits by %s", strings.Join(updateResult.Conflict.Sessions, ", ")))
		}
	}

	m.teardown(sess, archivePath)

	log.Info().
		Str("session_id", sess.ID).
		Str("archive", archivePath).
		Bool("context_updated", result.ContextUpdated).
		Int("degraded_steps", len(result.Degraded)).
		Msg("Session clocked out")
	return result, nil
}

// lookupSession finds the session in the registry, falling back to its
// on-disk record for a registry that was wiped mid-session.
func (m *Manager) lookupSession(sessionID string) (models.Session, error) {
	if sess, ok := m.reg.Get(sessionID); ok {
		return sess, nil
	}

	sessionDir := filepath.Join(m.root, SessionsDirName, sessionID)
	sess, err := readSessionFile(sessionDir)
	if err != nil {
		return models.Session{}, faults.Wrap(fmt.Errorf("session %s not found", sessionID), faults.KindUnresolvable)
	}
	return sess, nil
}

// archiveRaw copies the raw transcript byte-for-byte into the dated
// archive directory. This happens before any parsing so a parser bug
// can never lose data.
func (m *Manager) archiveRaw(sess models.Session, rawPath string) (string, error) {
	raw, err := os.ReadFile(rawPath) // #nosec G304 -- path was validated by the resolver
	if err != nil {
		return "", fmt.Errorf("read raw transcript: %w", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	dir := filepath.Join(m.root, ArchivesDirName, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	archivePath := filepath.Join(dir, sess.ID+".jsonl")
	if err := fsx.WriteFileAtomic(archivePath, raw, 0o644); err != nil {
		return "", fmt.Errorf("archive raw transcript: %w", err)
	}

	// Confirm the archive is really there before anything else runs.
	info, err := os.Stat(archivePath)
	if err != nil || info.Size() != int64(len(raw)) {
		return "", fmt.Errorf("archive verification failed for %s", archivePath)
	}
	return archivePath, nil
}

// distill parses the archived transcript and builds a human-readable
// summary. Parse trouble degrades the summary, never the clock-out.
func (m *Manager) distill(sess models.Session, rawPath string, result *ClockOutResult) string {
	parsed, err := m.parser.ParseFile(rawPath)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("Transcript parse degraded")
		result.Degraded = append(result.Degraded, fmt.Sprintf("parse: %v", err))
	}
	if parsed == nil || len(parsed.Records) == 0 {
		return fmt.Sprintf("## Session %s\nFocus: %s\nNo parseable activity; raw transcript archived.", shortID(sess.ID), sess.Focus)
	}
	return buildSummary(sess, parsed)
}

// teardown removes the session record. Archive existence was already
// verified; failures here are logged and swallowed because the reaper
// will collect leftovers.
func (m *Manager) teardown(sess models.Session, archivePath string) {
	if _, err := os.Stat(archivePath); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("Refusing teardown, archive missing")
		return
	}
	if err := os.RemoveAll(filepath.Join(m.root, SessionsDirName, sess.ID)); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("Could not remove session dir")
	}
	if err := m.reg.Remove(sess.ID); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("Could not remove registry entry")
	}
}

// buildSummary renders the parsed transcript as a compact section ready
// for the context artifact.
func buildSummary(sess models.Session, parsed *models.Transcript) string {
	var exchanges, toolCalls int
	var firstUser, lastAssistant string
	toolNames := make(map[string]int)

	for _, rec := range parsed.Records {
		switch rec.Kind {
		case models.RecordKindExchange:
			exchanges++
			if rec.Exchange.Role == "user" && firstUser == "" {
				firstUser = rec.Exchange.Content
			}
			if rec.Exchange.Role == "assistant" {
				lastAssistant = rec.Exchange.Content
			}
		case models.RecordKindToolCall:
			toolCalls++
			toolNames[rec.ToolCall.Name]++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Session %s (%s)\n", shortID(sess.ID), time.Now().UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "Focus: %s\n", sess.Focus)
	fmt.Fprintf(&b, "Activity: %d exchanges, %d tool calls", exchanges, toolCalls)
	if parsed.TotalTokens > 0 {
		fmt.Fprintf(&b, ", %d tokens", parsed.TotalTokens)
	}
	b.WriteString("\n")

	if len(toolNames) > 0 {
		names := make([]string, 0, len(toolNames))
		for name := range toolNames {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "Tools: %s\n", strings.Join(names, ", "))
	}
	if firstUser != "" {
		fmt.Fprintf(&b, "Opening request: %s\n", excerpt(firstUser, 200))
	}
	if lastAssistant != "" {
		fmt.Fprintf(&b, "Closing state: %s\n", excerpt(lastAssistant, 200))
	}
	if parsed.SkippedLines > 0 {
		fmt.Fprintf(&b, "Note: %d undecodable transcript lines (raw archive is complete)\n", parsed.SkippedLines)
	}
	return strings.TrimRight(b.String(), "\n")
}

func excerpt(text string, budget int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
