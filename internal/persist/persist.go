// Package persist selects between the two write strategies: legacy
// direct-write, where the merge engine mutates artifacts in place, and
// anchor mode, where every intended change is appended to a dated event
// log and the canonical snapshot is synthesized elsewhere. In anchor
// mode nothing in this module ever writes under the snapshot directory;
// that is a hard invariant, not a convention.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/pkg/models"
)

// Mode is the persistence strategy for a project.
type Mode string

const (
	// ModeDirect mutates artifacts in place (legacy projects).
	ModeDirect Mode = "direct"
	// ModeAnchor appends events; the snapshot is read-only here.
	ModeAnchor Mode = "anchor"
)

const (
	// AnchorDirName holds everything anchor-related in the context root.
	AnchorDirName = "anchor"
	// SnapshotDirName is the read-only synthesized snapshot.
	SnapshotDirName = "snapshot"
	// EventsDirName holds the dated event logs.
	EventsDirName = "events"
	// ConstraintsFileName is the anchor-mode negative-constraints file.
	ConstraintsFileName = "constraints.md"
)

// DetectMode reports anchor mode when the snapshot directory exists,
// direct mode otherwise.
func DetectMode(contextRoot string) Mode {
	info, err := os.Stat(filepath.Join(contextRoot, AnchorDirName, SnapshotDirName))
	if err == nil && info.IsDir() {
		return ModeAnchor
	}
	return ModeDirect
}

// SnapshotDir returns the snapshot directory for a context root. Callers
// read from it; nothing in shiftbook writes to it.
func SnapshotDir(contextRoot string) string {
	return filepath.Join(contextRoot, AnchorDirName, SnapshotDirName)
}

// ConstraintsPath returns the anchor-mode negative-constraints file if it
// exists, or "" when absent.
func ConstraintsPath(contextRoot string) string {
	path := filepath.Join(contextRoot, AnchorDirName, ConstraintsFileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// EventLog appends intended changes to dated JSONL files under
// anchor/events. Appends from concurrent sessions interleave safely;
// each event carries its own UUID.
type EventLog struct {
	dir string
}

// OpenEventLog returns the event log for a context root, creating the
// events directory if needed.
func OpenEventLog(contextRoot string) (*EventLog, error) {
	dir := filepath.Join(contextRoot, AnchorDirName, EventsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	return &EventLog{dir: dir}, nil
}

// Emit appends one event and returns it. The write is durable (fsynced)
// before Emit returns; success here is success of the whole update in
// anchor mode.
func (l *EventLog) Emit(eventType models.EventType, payload models.EventPayload) (models.Event, error) {
	event := models.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Payload:   payload,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return models.Event{}, fmt.Errorf("encode event: %w", err)
	}

	path := filepath.Join(l.dir, event.Timestamp.Format("2006-01-02")+".jsonl")
	if err := fsx.AppendLine(path, line, 0o644); err != nil {
		return models.Event{}, fmt.Errorf("append event: %w", err)
	}

	log.Debug().
		Str("id", event.ID).
		Str("type", string(eventType)).
		Str("target", payload.Target).
		Msg("Emitted anchor event")
	return event, nil
}

// Events reads the events for one day (format 2006-01-02), oldest first.
// A missing day yields an empty slice.
func (l *EventLog) Events(day string) ([]models.Event, error) {
	lines, err := fsx.ReadLines(filepath.Join(l.dir, day+".jsonl"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(lines))
	for _, line := range lines {
		var event models.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			log.Warn().Err(err).Str("day", day).Msg("Undecodable event line")
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
