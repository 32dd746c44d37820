// Package registry tracks active sessions for one project.
package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/shiftbook/pkg/models"
)

// RegistrySuite is a test suite for registry operations.
type RegistrySuite struct {
	suite.Suite
	dir string
}

func (s *RegistrySuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) session(id, focus string) models.Session {
	return models.Session{
		ID:        id,
		Focus:     focus,
		CreatedAt: time.Now().UTC(),
		Status:    models.SessionStatusActive,
	}
}

func (s *RegistrySuite) TestOpenEmpty() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Empty(r.Active())
}

func (s *RegistrySuite) TestAddAndReload() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "refactor-auth")))

	// A second process opening the same dir sees the entry
	r2, err := Open(s.dir)
	s.Require().NoError(err)
	got, ok := r2.Get("sess-1")
	s.True(ok)
	s.Equal("refactor-auth", got.Focus)
}

func (s *RegistrySuite) TestRemoveIsIdempotent() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "focus")))

	s.NoError(r.Remove("sess-1"))
	s.NoError(r.Remove("sess-1"))
	s.NoError(r.Remove("never-existed"))
	s.Empty(r.Active())
}

func (s *RegistrySuite) TestFindByFocusOverlap() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "refactor-auth")))
	s.Require().NoError(r.Add(s.session("sess-2", "docs")))

	conflicts := r.FindByFocus("Refactor-Auth cleanup", "sess-new")
	s.Require().Len(conflicts, 1)
	s.Equal("sess-1", conflicts[0].SessionID)
}

func (s *RegistrySuite) TestFindByFocusExcludesSelf() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "refactor-auth")))

	s.Empty(r.FindByFocus("refactor-auth", "sess-1"))
}

func (s *RegistrySuite) TestFindByFocusEmptyFocus() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "refactor-auth")))

	s.Empty(r.FindByFocus("   ", "other"))
}

func (s *RegistrySuite) TestCorruptFileIsNonFatal() {
	path := filepath.Join(s.dir, FileName)
	s.Require().NoError(os.WriteFile(path, []byte("{broken"), 0o644))

	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Empty(r.Active())

	// The corrupt payload is preserved for inspection
	backup, err := os.ReadFile(path + ".corrupt")
	s.Require().NoError(err)
	s.Equal("{broken", string(backup))
}

func (s *RegistrySuite) TestAddOverwritesStaleEntry() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "old focus")))
	s.Require().NoError(r.Add(s.session("sess-1", "new focus")))

	got, ok := r.Get("sess-1")
	s.True(ok)
	s.Equal("new focus", got.Focus)
	s.Len(r.Active(), 1)
}

func (s *RegistrySuite) TestGuardRestoresDeletedRegistry() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "refactor-auth")))

	guard, err := r.Watch()
	s.Require().NoError(err)
	defer guard.Stop()

	s.Require().NoError(os.Remove(r.Path()))

	s.Require().Eventually(func() bool {
		_, statErr := os.Stat(r.Path())
		return statErr == nil
	}, 3*time.Second, 25*time.Millisecond, "registry file restored")

	// The restored file carries the in-memory state
	reloaded, err := Open(s.dir)
	s.Require().NoError(err)
	got, ok := reloaded.Get("sess-1")
	s.True(ok)
	s.Equal("refactor-auth", got.Focus)
}

func (s *RegistrySuite) TestGuardSurvivesAtomicReplace() {
	r, err := Open(s.dir)
	s.Require().NoError(err)
	s.Require().NoError(r.Add(s.session("sess-1", "alpha")))

	guard, err := r.Watch()
	s.Require().NoError(err)
	defer guard.Stop()

	// Normal mutations replace the file atomically; the guard must not
	// treat that as a deletion
	s.Require().NoError(r.Add(s.session("sess-2", "beta")))
	time.Sleep(4 * guardDebounce)

	reloaded, err := Open(s.dir)
	s.Require().NoError(err)
	s.Len(reloaded.Active(), 2)
}
