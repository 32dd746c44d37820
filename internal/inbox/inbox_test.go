// Package inbox is the append-only audit staging area.
package inbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/shiftbook/pkg/models"
)

// InboxSuite is a test suite for audit inbox operations.
type InboxSuite struct {
	suite.Suite
	root  string
	inbox *Inbox
}

func (s *InboxSuite) SetupTest() {
	s.root = s.T().TempDir()
	var err error
	s.inbox, err = Open(s.root)
	s.Require().NoError(err)
}

func TestInboxSuite(t *testing.T) {
	suite.Run(t, new(InboxSuite))
}

func (s *InboxSuite) TestStageWritesEntryFile() {
	entry, err := s.inbox.Stage("context.md", "new content", "sess-1")
	s.Require().NoError(err)
	s.NotEmpty(entry.ID)
	s.Equal(models.AuditStatusPending, entry.Status)

	_, err = os.Stat(filepath.Join(s.root, DirName, entry.ID+".json"))
	s.NoError(err)
}

func (s *InboxSuite) TestProcessedExactlyOnce() {
	entry, err := s.inbox.Stage("context.md", "content", "sess-1")
	s.Require().NoError(err)

	processed, err := s.inbox.IsProcessed(entry.ID)
	s.Require().NoError(err)
	s.False(processed)

	s.Require().NoError(s.inbox.MarkProcessed(entry.ID))

	processed, err = s.inbox.IsProcessed(entry.ID)
	s.Require().NoError(err)
	s.True(processed)

	// Second transition is refused
	err = s.inbox.MarkProcessed(entry.ID)
	s.Require().Error(err)
	s.ErrorIs(err, ErrAlreadyProcessed)
}

func (s *InboxSuite) TestEntryFileSurvivesProcessing() {
	entry, err := s.inbox.Stage("context.md", "content", "sess-1")
	s.Require().NoError(err)
	s.Require().NoError(s.inbox.MarkProcessed(entry.ID))

	// Never deleted, only indexed
	_, err = os.Stat(filepath.Join(s.root, DirName, entry.ID+".json"))
	s.NoError(err)

	all, err := s.inbox.All()
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(models.AuditStatusProcessed, all[0].Status)
}

func (s *InboxSuite) TestPendingExcludesProcessed() {
	first, err := s.inbox.Stage("context.md", "one", "sess-1")
	s.Require().NoError(err)
	second, err := s.inbox.Stage("context.md", "two", "sess-2")
	s.Require().NoError(err)

	s.Require().NoError(s.inbox.MarkProcessed(first.ID))

	pending, err := s.inbox.Pending()
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second.ID, pending[0].ID)
}

func (s *InboxSuite) TestPendingOrderedOldestFirst() {
	for _, content := range []string{"a", "b", "c"} {
		_, err := s.inbox.Stage("context.md", content, "sess-1")
		s.Require().NoError(err)
	}

	pending, err := s.inbox.Pending()
	s.Require().NoError(err)
	s.Require().Len(pending, 3)
	s.True(!pending[1].Timestamp.Before(pending[0].Timestamp))
	s.True(!pending[2].Timestamp.Before(pending[1].Timestamp))
}

func (s *InboxSuite) TestUndecodableEntryIsSkipped() {
	_, err := s.inbox.Stage("context.md", "good", "sess-1")
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(filepath.Join(s.root, DirName, "junk.json"), []byte("{oops"), 0o644))

	all, err := s.inbox.All()
	s.Require().NoError(err)
	s.Len(all, 1)
}
