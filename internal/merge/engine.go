package merge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/compact"
	"github.com/thebtf/shiftbook/internal/conflict"
	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/internal/inbox"
	"github.com/thebtf/shiftbook/internal/paths"
	"github.com/thebtf/shiftbook/internal/persist"
	"github.com/thebtf/shiftbook/internal/synth"
	"github.com/thebtf/shiftbook/pkg/models"
)

// Engine applies updates to context artifacts under one project root.
// Per-target writes are serialized in-process by a keyed mutex;
// cross-process overlap is surfaced by the conflict detector as an
// advisory flag, not prevented.
type Engine struct {
	root            string
	inbox           *inbox.Inbox
	gate            *compact.Gate
	mode            persist.Mode
	events          *persist.EventLog
	delegate        synth.Delegate
	conflictWindow  time.Duration
	delegateTimeout time.Duration

	mu      sync.Mutex
	targets map[string]*sync.Mutex
}

// Options configures an Engine.
type Options struct {
	Root            string
	Inbox           *inbox.Inbox
	LineCeiling     int
	Mode            persist.Mode
	Events          *persist.EventLog
	Delegate        synth.Delegate
	ConflictWindow  time.Duration
	DelegateTimeout time.Duration
}

// NewEngine builds an Engine. Events must be non-nil when Mode is
// anchor; Delegate may be nil, delegated merges then fall back to the
// direct path.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("merge engine requires a root")
	}
	if opts.Inbox == nil {
		return nil, fmt.Errorf("merge engine requires an inbox")
	}
	if opts.Mode == persist.ModeAnchor && opts.Events == nil {
		return nil, fmt.Errorf("anchor mode requires an event log")
	}
	return &Engine{
		root:            opts.Root,
		inbox:           opts.Inbox,
		gate:            compact.New(opts.LineCeiling),
		mode:            opts.Mode,
		events:          opts.Events,
		delegate:        opts.Delegate,
		conflictWindow:  opts.ConflictWindow,
		delegateTimeout: opts.DelegateTimeout,
		targets:         make(map[string]*sync.Mutex),
	}, nil
}

// Mode returns the engine's active persistence mode.
func (e *Engine) Mode() persist.Mode {
	return e.mode
}

// UpdateRequest is one requested change to a context artifact.
type UpdateRequest struct {
	// Target is the artifact path relative to the context root.
	Target string
	// Content is the new material to merge.
	Content string
	// SessionID identifies the writing session for the changelog.
	SessionID string
	// Reason is recorded in the changelog entry.
	Reason string
	// Delegated requests a semantic merge through the synthesis delegate.
	Delegated bool
	// Signals accompany a delegated merge.
	Signals synth.Signals
	// AckConflict acknowledges a previously reported conflict.
	AckConflict bool
}

// UpdateResult reports what an update did.
type UpdateResult struct {
	// Conflict is the advisory overlap report; the write went through
	// regardless.
	Conflict conflict.Report
	// Compacted is true when overflow moved to the history artifact.
	Compacted bool
	// Delegated is true when the delegate's merge was accepted.
	Delegated bool
	// EventID is set in anchor mode.
	EventID string
	// InboxID is the audit inbox entry staged for this update.
	InboxID string
	// Artifacts are extra outputs declared by the delegate.
	Artifacts []string
}

// Update runs the write state machine for one request:
// stage → conflict check → merge or event emission → compaction →
// archive. The inbox entry is marked processed only after the write is
// durable; on rejection it stays pending for operator inspection.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	// Path validation is pure and runs before anything touches disk.
	target, err := paths.Contain(e.root, req.Target)
	if err != nil {
		return UpdateResult{}, err
	}

	unlock := e.lockTarget(target)
	defer unlock()

	// Staged before any merge work, never skipped.
	entry, err := e.inbox.Stage(req.Target, req.Content, req.SessionID)
	if err != nil {
		return UpdateResult{}, err
	}
	result := UpdateResult{InboxID: entry.ID}

	if e.mode == persist.ModeAnchor {
		return e.emitEvent(entry, req, result)
	}

	artifact, err := loadArtifact(target)
	if err != nil {
		return result, err
	}

	result.Conflict = conflict.Detect(artifact.Changelog, req.SessionID, e.conflictWindow, time.Now())

	body, delegated, delegateArtifacts := e.mergeBody(ctx, artifact.Content, req, target)
	result.Delegated = delegated
	result.Artifacts = delegateArtifacts

	gateResult, err := e.gate.Apply(body, historyPath(target))
	if err != nil {
		return result, err
	}
	result.Compacted = gateResult.Compacted

	reason := req.Reason
	if reason == "" {
		reason = "context update"
	}
	if result.Conflict.Flagged && req.AckConflict {
		reason += " (conflict acknowledged)"
	}
	changelog := append(artifact.Changelog, models.ChangelogEntry{
		Timestamp: time.Now().UTC(),
		SessionID: req.SessionID,
		Reason:    reason,
	})
	changelog, overflow := trimChangelog(changelog)
	if len(overflow) > 0 {
		if err := e.archiveChangelog(target, overflow); err != nil {
			return result, err
		}
	}

	rendered := renderArtifact(gateResult.Live, changelog)
	if err := fsx.WriteFileAtomic(target, []byte(rendered), 0o644); err != nil {
		return result, fmt.Errorf("write artifact: %w", err)
	}

	// Durable now; complete the audit trail.
	if err := e.inbox.MarkProcessed(entry.ID); err != nil {
		return result, err
	}

	log.Info().
		Str("target", req.Target).
		Str("session_id", req.SessionID).
		Bool("compacted", result.Compacted).
		Bool("delegated", result.Delegated).
		Bool("conflict", result.Conflict.Flagged).
		Msg("Context artifact updated")
	return result, nil
}

// emitEvent is the anchor-mode write path: append an event, never touch
// the snapshot.
func (e *Engine) emitEvent(entry models.AuditEntry, req UpdateRequest, result UpdateResult) (UpdateResult, error) {
	event, err := e.events.Emit(models.EventTypeContextUpdate, models.EventPayload{
		Target:    req.Target,
		Intent:    req.Reason,
		Content:   req.Content,
		InboxUUID: entry.ID,
	})
	if err != nil {
		return result, err
	}
	result.EventID = event.ID

	if err := e.inbox.MarkProcessed(entry.ID); err != nil {
		return result, err
	}
	return result, nil
}

// mergeBody produces the new artifact body. Delegated merges go through
// the synthesis collaborator with the paper gate applied; any delegate
// failure falls back to the deterministic direct merge.
func (e *Engine) mergeBody(ctx context.Context, current string, req UpdateRequest, target string) (string, bool, []string) {
	if !req.Delegated {
		return directMerge(current, req.Content), false, nil
	}

	historyBefore, err := compact.HistorySize(historyPath(target))
	if err != nil {
		log.Warn().Err(err).Msg("Cannot size history artifact, using direct merge")
		return directMerge(current, req.Content), false, nil
	}

	success, err := synth.CallWithTimeout(ctx, e.delegate, e.delegateTimeout, current, req.Content, req.Signals)
	if err != nil {
		// Transient by construction; degrade without blocking the write.
		log.Warn().Err(err).Str("target", req.Target).Msg("Delegated merge unavailable, using direct merge")
		return directMerge(current, req.Content), false, nil
	}

	if success.CompactionPerformed {
		historyAfter, err := compact.HistorySize(historyPath(target))
		if err != nil || historyAfter <= historyBefore {
			// Paper gate: a compaction claim without a grown history
			// artifact is a defined failure, not a soft warning.
			log.Error().
				Str("target", req.Target).
				Int64("before", historyBefore).
				Int64("after", historyAfter).
				Msg("Delegate claimed compaction without history growth, rejecting result")
			return directMerge(current, req.Content), false, nil
		}
	}

	if strings.TrimSpace(success.Summary) == "" {
		log.Warn().Str("target", req.Target).Msg("Delegate returned empty summary, using direct merge")
		return directMerge(current, req.Content), false, nil
	}
	return success.Summary, true, success.Artifacts
}

// directMerge is the deterministic non-semantic path: append the new
// content as its own block.
func directMerge(current, incoming string) string {
	current = strings.TrimRight(current, "\n")
	incoming = strings.TrimRight(incoming, "\n")
	if current == "" {
		return incoming
	}
	if incoming == "" {
		return current
	}
	return current + "\n\n" + incoming
}

// archiveChangelog relocates trimmed changelog entries to the history
// artifact so the audit trail stays complete.
func (e *Engine) archiveChangelog(target string, overflow []models.ChangelogEntry) error {
	var b strings.Builder
	b.WriteString(compact.MarkerPrefix + time.Now().UTC().Format(time.RFC3339) + " changelog ---")
	for _, entry := range overflow {
		fmt.Fprintf(&b, "\n- %s [%s] %s", entry.Timestamp.UTC().Format(time.RFC3339), entry.SessionID, entry.Reason)
	}
	return fsx.AppendLine(historyPath(target), []byte(b.String()), 0o644)
}

// Inbox exposes the engine's audit inbox for callers that need to
// inspect pending entries.
func (e *Engine) Inbox() *inbox.Inbox {
	return e.inbox
}

func (e *Engine) lockTarget(target string) func() {
	e.mu.Lock()
	lock, ok := e.targets[target]
	if !ok {
		lock = &sync.Mutex{}
		e.targets[target] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
