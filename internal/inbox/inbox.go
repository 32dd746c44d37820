// Package inbox is the append-only audit staging area. Every update
// request is written here before any merge work happens, so the full
// request history survives crashes, rejected writes, and disputes.
package inbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/pkg/models"
)

const (
	// DirName is the inbox directory inside the context root.
	DirName = "inbox"
	// indexName is the processed index, replaced atomically on update.
	indexName = "processed.json"
)

// ErrAlreadyProcessed is returned when an entry would transition
// processed twice. The pending→processed transition happens exactly once.
var ErrAlreadyProcessed = fmt.Errorf("inbox entry already processed")

// Inbox stages update requests as one JSON file per entry plus a
// processed index. Entry files are never deleted or rewritten; an
// entry's effective status is pending unless its ID is in the index.
// Appends from concurrent processes are safe because each entry gets a
// unique file name; the index update is the single-writer critical
// section and is guarded in-process by a mutex and on disk by atomic
// replace.
type Inbox struct {
	dir string

	mu sync.Mutex
}

type processedIndex struct {
	UpdatedAt time.Time `json:"updated_at"`
	IDs       []string  `json:"ids"`
}

// Open creates the inbox directory if needed and returns an Inbox.
func Open(contextRoot string) (*Inbox, error) {
	dir := filepath.Join(contextRoot, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	return &Inbox{dir: dir}, nil
}

// Stage records an update request before it is applied and returns the
// staged entry. This is never skipped, even when the update later fails.
func (i *Inbox) Stage(target, content, sessionID string) (models.AuditEntry, error) {
	entry := models.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Target:    target,
		Content:   content,
		Status:    models.AuditStatusPending,
		SessionID: sessionID,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("encode inbox entry: %w", err)
	}
	path := filepath.Join(i.dir, entry.ID+".json")
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return models.AuditEntry{}, fmt.Errorf("stage inbox entry: %w", err)
	}

	log.Debug().Str("id", entry.ID).Str("target", target).Msg("Staged update request")
	return entry, nil
}

// MarkProcessed records the entry ID in the processed index. The entry
// file itself is untouched. Marking an already-processed entry is an
// error; there is no path back to pending.
func (i *Inbox) MarkProcessed(entryID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	index, err := i.loadIndex()
	if err != nil {
		return err
	}
	for _, id := range index.IDs {
		if id == entryID {
			return fmt.Errorf("%w: %s", ErrAlreadyProcessed, entryID)
		}
	}

	index.IDs = append(index.IDs, entryID)
	index.UpdatedAt = time.Now().UTC()
	sort.Strings(index.IDs)

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode processed index: %w", err)
	}
	if err := fsx.WriteFileAtomic(filepath.Join(i.dir, indexName), data, 0o644); err != nil {
		return fmt.Errorf("write processed index: %w", err)
	}
	return nil
}

// IsProcessed reports whether the entry ID is in the processed index.
func (i *Inbox) IsProcessed(entryID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	index, err := i.loadIndex()
	if err != nil {
		return false, err
	}
	for _, id := range index.IDs {
		if id == entryID {
			return true, nil
		}
	}
	return false, nil
}

// Pending returns all staged entries whose IDs are absent from the
// processed index, oldest first. Operators inspect these after a
// rejected write.
func (i *Inbox) Pending() ([]models.AuditEntry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	index, err := i.loadIndex()
	if err != nil {
		return nil, err
	}
	processed := make(map[string]bool, len(index.IDs))
	for _, id := range index.IDs {
		processed[id] = true
	}

	entries, err := i.loadEntries()
	if err != nil {
		return nil, err
	}

	var pending []models.AuditEntry
	for _, entry := range entries {
		if !processed[entry.ID] {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(a, b int) bool {
		return pending[a].Timestamp.Before(pending[b].Timestamp)
	})
	return pending, nil
}

// All returns every staged entry with its effective status, oldest
// first. Nothing is ever missing: entries are never deleted.
func (i *Inbox) All() ([]models.AuditEntry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	index, err := i.loadIndex()
	if err != nil {
		return nil, err
	}
	processed := make(map[string]bool, len(index.IDs))
	for _, id := range index.IDs {
		processed[id] = true
	}

	entries, err := i.loadEntries()
	if err != nil {
		return nil, err
	}
	for idx := range entries {
		if processed[entries[idx].ID] {
			entries[idx].Status = models.AuditStatusProcessed
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Timestamp.Before(entries[b].Timestamp)
	})
	return entries, nil
}

func (i *Inbox) loadIndex() (processedIndex, error) {
	var index processedIndex

	data, err := os.ReadFile(filepath.Join(i.dir, indexName))
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return index, fmt.Errorf("read processed index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return index, fmt.Errorf("decode processed index: %w", err)
	}
	return index, nil
}

func (i *Inbox) loadEntries() ([]models.AuditEntry, error) {
	files, err := os.ReadDir(i.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox dir: %w", err)
	}

	var entries []models.AuditEntry
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || name == indexName || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(i.dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Unreadable inbox entry")
			continue
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Undecodable inbox entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
