// Package merge applies updates to context artifacts.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/shiftbook/internal/faults"
	"github.com/thebtf/shiftbook/internal/inbox"
	"github.com/thebtf/shiftbook/internal/persist"
	"github.com/thebtf/shiftbook/internal/synth"
	"github.com/thebtf/shiftbook/pkg/models"
)

// scriptedDelegate returns a fixed result, recording whether it ran.
type scriptedDelegate struct {
	result models.SynthesisResult
	err    error
	called bool
	// onCall runs before returning, for history manipulation
	onCall func()
}

func (d *scriptedDelegate) Merge(_ context.Context, _, _ string, _ synth.Signals) (models.SynthesisResult, error) {
	d.called = true
	if d.onCall != nil {
		d.onCall()
	}
	return d.result, d.err
}

// EngineSuite is a test suite for the merge engine.
type EngineSuite struct {
	suite.Suite
	root  string
	inbox *inbox.Inbox
}

func (s *EngineSuite) SetupTest() {
	s.root = s.T().TempDir()
	var err error
	s.inbox, err = inbox.Open(s.root)
	s.Require().NoError(err)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) engine(opts Options) *Engine {
	if opts.Root == "" {
		opts.Root = s.root
	}
	if opts.Inbox == nil {
		opts.Inbox = s.inbox
	}
	if opts.LineCeiling == 0 {
		opts.LineCeiling = 200
	}
	if opts.Mode == "" {
		opts.Mode = persist.ModeDirect
	}
	if opts.ConflictWindow == 0 {
		opts.ConflictWindow = 15 * time.Minute
	}
	if opts.DelegateTimeout == 0 {
		opts.DelegateTimeout = time.Second
	}
	engine, err := NewEngine(opts)
	s.Require().NoError(err)
	return engine
}

func (s *EngineSuite) readArtifact(name string) string {
	data, err := os.ReadFile(filepath.Join(s.root, name))
	s.Require().NoError(err)
	return string(data)
}

func (s *EngineSuite) TestDirectUpdateCreatesArtifact() {
	engine := s.engine(Options{})

	result, err := engine.Update(context.Background(), UpdateRequest{
		Target:    "context.md",
		Content:   "## State\nauth refactor landed",
		SessionID: "sess-1",
		Reason:    "session summary",
	})
	s.Require().NoError(err)
	s.False(result.Conflict.Flagged)
	s.False(result.Compacted)

	content := s.readArtifact("context.md")
	s.Contains(content, "auth refactor landed")
	s.Contains(content, "## Changelog")
	s.Contains(content, "[sess-1] session summary")
}

func (s *EngineSuite) TestUpdateAppendsToExisting() {
	engine := s.engine(Options{})
	ctx := context.Background()

	_, err := engine.Update(ctx, UpdateRequest{Target: "context.md", Content: "first block", SessionID: "sess-1"})
	s.Require().NoError(err)
	_, err = engine.Update(ctx, UpdateRequest{Target: "context.md", Content: "second block", SessionID: "sess-1"})
	s.Require().NoError(err)

	content := s.readArtifact("context.md")
	s.Contains(content, "first block")
	s.Contains(content, "second block")
	s.Less(strings.Index(content, "first block"), strings.Index(content, "second block"))
}

func (s *EngineSuite) TestEveryUpdateIsStaged() {
	engine := s.engine(Options{})

	result, err := engine.Update(context.Background(), UpdateRequest{
		Target: "context.md", Content: "content", SessionID: "sess-1",
	})
	s.Require().NoError(err)

	processed, err := s.inbox.IsProcessed(result.InboxID)
	s.Require().NoError(err)
	s.True(processed)

	all, err := s.inbox.All()
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *EngineSuite) TestTraversalRejectedBeforeStaging() {
	engine := s.engine(Options{})

	_, err := engine.Update(context.Background(), UpdateRequest{
		Target: "../../etc/passwd", Content: "evil", SessionID: "sess-1",
	})
	s.Require().Error(err)
	s.Equal(faults.KindSecurity, faults.KindOf(err))

	// Nothing was staged: rejection happened before any filesystem access
	all, listErr := s.inbox.All()
	s.Require().NoError(listErr)
	s.Empty(all)
}

func (s *EngineSuite) TestFailedWriteLeavesEntryPending() {
	// Occupy the artifact path with a directory so the write fails after
	// the request has been staged
	s.Require().NoError(os.Mkdir(filepath.Join(s.root, "context.md"), 0o755))

	engine := s.engine(Options{})
	_, err := engine.Update(context.Background(), UpdateRequest{
		Target:    "context.md",
		Content:   "state",
		SessionID: "sess-1",
	})
	s.Require().Error(err)

	// The staged entry survives as pending for reconciliation
	pending, err := s.inbox.Pending()
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(models.AuditStatusPending, pending[0].Status)
	s.Equal("sess-1", pending[0].SessionID)
	s.Equal("context.md", pending[0].Target)
}

func (s *EngineSuite) TestConflictFlaggedNotBlocking() {
	engine := s.engine(Options{})
	ctx := context.Background()

	_, err := engine.Update(ctx, UpdateRequest{Target: "context.md", Content: "from one", SessionID: "sess-1"})
	s.Require().NoError(err)

	result, err := engine.Update(ctx, UpdateRequest{Target: "context.md", Content: "from two", SessionID: "sess-2"})
	s.Require().NoError(err)

	s.True(result.Conflict.Flagged)
	s.Equal([]string{"sess-1"}, result.Conflict.Sessions)
	// The write still happened
	s.Contains(s.readArtifact("context.md"), "from two")
}

func (s *EngineSuite) TestAcknowledgedConflictRecorded() {
	engine := s.engine(Options{})
	ctx := context.Background()

	_, err := engine.Update(ctx, UpdateRequest{Target: "context.md", Content: "one", SessionID: "sess-1"})
	s.Require().NoError(err)

	_, err = engine.Update(ctx, UpdateRequest{
		Target: "context.md", Content: "two", SessionID: "sess-2", AckConflict: true, Reason: "override",
	})
	s.Require().NoError(err)

	s.Contains(s.readArtifact("context.md"), "override (conflict acknowledged)")
}

func (s *EngineSuite) TestCeilingTriggersCompaction() {
	engine := s.engine(Options{LineCeiling: 12})
	ctx := context.Background()

	var section = func(name string, lines int) string {
		var b strings.Builder
		fmt.Fprintf(&b, "## %s\n", name)
		for i := 0; i < lines; i++ {
			fmt.Fprintf(&b, "%s detail %d\n", name, i)
		}
		return b.String()
	}

	_, err := engine.Update(ctx, UpdateRequest{Target: "context.md", Content: section("alpha", 8), SessionID: "sess-1"})
	s.Require().NoError(err)

	result, err := engine.Update(ctx, UpdateRequest{Target: "context.md", Content: section("beta", 8), SessionID: "sess-1"})
	s.Require().NoError(err)
	s.True(result.Compacted)

	live := s.readArtifact("context.md")
	history := s.readArtifact("context.history.md")
	s.NotContains(live, "## alpha")
	s.Contains(live, "## beta")
	s.Contains(history, "## alpha")

	// Lossless: every alpha line is in history
	for i := 0; i < 8; i++ {
		s.Contains(history, fmt.Sprintf("alpha detail %d", i))
	}
}

func (s *EngineSuite) TestDelegatedMergeAccepted() {
	delegate := &scriptedDelegate{result: models.SynthesisResult{
		Success: &models.SynthesisSuccess{Summary: "## State\ndistilled truth"},
	}}
	engine := s.engine(Options{Delegate: delegate})

	result, err := engine.Update(context.Background(), UpdateRequest{
		Target: "context.md", Content: "raw notes", SessionID: "sess-1", Delegated: true,
	})
	s.Require().NoError(err)
	s.True(delegate.called)
	s.True(result.Delegated)

	content := s.readArtifact("context.md")
	s.Contains(content, "distilled truth")
	s.NotContains(content, "raw notes")
}

func (s *EngineSuite) TestDelegateFailureFallsBack() {
	delegate := &scriptedDelegate{result: models.SynthesisResult{
		Failure: &models.SynthesisFailure{Reason: "model offline"},
	}}
	engine := s.engine(Options{Delegate: delegate})

	result, err := engine.Update(context.Background(), UpdateRequest{
		Target: "context.md", Content: "raw notes", SessionID: "sess-1", Delegated: true,
	})
	s.Require().NoError(err)
	s.False(result.Delegated)
	s.Contains(s.readArtifact("context.md"), "raw notes")
}

func (s *EngineSuite) TestPaperCompactionClaimRejected() {
	// Delegate claims compaction but writes nothing to history
	delegate := &scriptedDelegate{result: models.SynthesisResult{
		Success: &models.SynthesisSuccess{Summary: "suspicious summary", CompactionPerformed: true},
	}}
	engine := s.engine(Options{Delegate: delegate})

	result, err := engine.Update(context.Background(), UpdateRequest{
		Target: "context.md", Content: "raw notes", SessionID: "sess-1", Delegated: true,
	})
	s.Require().NoError(err)
	s.True(delegate.called)
	s.False(result.Delegated)

	// Non-delegated path was used instead
	content := s.readArtifact("context.md")
	s.Contains(content, "raw notes")
	s.NotContains(content, "suspicious summary")
}

func (s *EngineSuite) TestEvidencedCompactionClaimHonored() {
	historyFile := filepath.Join(s.root, "context.history.md")
	delegate := &scriptedDelegate{
		result: models.SynthesisResult{
			Success: &models.SynthesisSuccess{Summary: "compact summary", CompactionPerformed: true},
		},
		onCall: func() {
			f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				_, _ = f.WriteString("archived by delegate\n")
				_ = f.Close()
			}
		},
	}
	engine := s.engine(Options{Delegate: delegate})

	result, err := engine.Update(context.Background(), UpdateRequest{
		Target: "context.md", Content: "raw notes", SessionID: "sess-1", Delegated: true,
	})
	s.Require().NoError(err)
	s.True(result.Delegated)
	s.Contains(s.readArtifact("context.md"), "compact summary")
}

func (s *EngineSuite) TestAnchorModeEmitsEventOnly() {
	s.Require().NoError(os.MkdirAll(persist.SnapshotDir(s.root), 0o755))
	snapshotFile := filepath.Join(persist.SnapshotDir(s.root), "context.md")
	s.Require().NoError(os.WriteFile(snapshotFile, []byte("canonical"), 0o644))

	events, err := persist.OpenEventLog(s.root)
	s.Require().NoError(err)
	engine := s.engine(Options{Mode: persist.ModeAnchor, Events: events})

	result, err := engine.Update(context.Background(), UpdateRequest{
		Target: "context.md", Content: "an update", SessionID: "sess-1", Reason: "summary",
	})
	s.Require().NoError(err)
	s.NotEmpty(result.EventID)

	// Snapshot untouched
	data, err := os.ReadFile(snapshotFile)
	s.Require().NoError(err)
	s.Equal("canonical", string(data))

	// No live artifact was written in the root either
	_, statErr := os.Stat(filepath.Join(s.root, "context.md"))
	s.True(os.IsNotExist(statErr))

	// Event recorded with the inbox link
	day := time.Now().UTC().Format("2006-01-02")
	recorded, err := events.Events(day)
	s.Require().NoError(err)
	s.Require().Len(recorded, 1)
	s.Equal(result.InboxID, recorded[0].Payload.InboxUUID)

	processed, err := s.inbox.IsProcessed(result.InboxID)
	s.Require().NoError(err)
	s.True(processed)
}

func (s *EngineSuite) TestChangelogGrowsPerUpdate() {
	engine := s.engine(Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.Update(ctx, UpdateRequest{
			Target: "context.md", Content: fmt.Sprintf("update %d", i), SessionID: "sess-1",
		})
		s.Require().NoError(err)
	}

	content := s.readArtifact("context.md")
	s.Equal(3, strings.Count(content, "[sess-1]"))
}

func TestDirectMerge(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		incoming string
		want     string
	}{
		{"empty current", "", "new", "new"},
		{"empty incoming", "old", "", "old"},
		{"both", "old", "new", "old\n\nnew"},
		{"trailing newlines trimmed", "old\n\n", "new\n", "old\n\nnew"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := directMerge(tt.current, tt.incoming); got != tt.want {
				t.Fatalf("directMerge() = %q, want %q", got, tt.want)
			}
		})
	}
}
