// Package session orchestrates the agent lifecycle: clock-in creates a
// tracked session against the project's context root, clock-out archives
// the raw transcript, distills it, and syncs the result into the shared
// context store before tearing the session down.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/config"
	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/internal/inbox"
	"github.com/thebtf/shiftbook/internal/merge"
	"github.com/thebtf/shiftbook/internal/paths"
	"github.com/thebtf/shiftbook/internal/persist"
	"github.com/thebtf/shiftbook/internal/registry"
	"github.com/thebtf/shiftbook/internal/synth"
	"github.com/thebtf/shiftbook/internal/transcript"
)

const (
	// SessionsDirName holds one subdirectory per active session.
	SessionsDirName = "sessions"
	// ArchivesDirName holds dated raw transcript archives.
	ArchivesDirName = "archives"
	// ContextFileName is the project's primary context artifact.
	ContextFileName = "context.md"
	// sessionFileName is the per-session record inside its directory.
	sessionFileName = "session.json"
	// counterFileName tracks clock-ins for the maintenance cadence.
	counterFileName = "clockins"
)

// Manager drives session lifecycle for one project. It holds an explicit
// registry rather than any process-wide state; two Managers over the
// same root coexist the same way two agent processes do.
type Manager struct {
	cfg      config.Config
	root     string
	reg      *registry.Registry
	resolver *transcript.Resolver
	parser   *transcript.Parser
	engine   *merge.Engine
	mode     persist.Mode
}

// NewManager resolves the project's context root for workingDir and
// wires the full update path. transcriptsRoot is the directory under
// which raw activity logs live; delegate may be nil.
func NewManager(cfg config.Config, workingDir, transcriptsRoot string, delegate synth.Delegate) (*Manager, error) {
	root, err := resolveContextRoot(cfg, workingDir)
	if err != nil {
		return nil, err
	}
	for _, sub := range []string{SessionsDirName, ArchivesDirName} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("context root unwritable: %w", err)
		}
	}

	reg, err := registry.Open(root)
	if err != nil {
		return nil, err
	}

	box, err := inbox.Open(root)
	if err != nil {
		return nil, err
	}

	mode := persist.DetectMode(root)
	var events *persist.EventLog
	if mode == persist.ModeAnchor {
		events, err = persist.OpenEventLog(root)
		if err != nil {
			return nil, err
		}
	}

	engine, err := merge.NewEngine(merge.Options{
		Root:            root,
		Inbox:           box,
		LineCeiling:     cfg.LineCeiling,
		Mode:            mode,
		Events:          events,
		Delegate:        delegate,
		ConflictWindow:  cfg.ConflictWindow,
		DelegateTimeout: cfg.DelegateTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		root:     root,
		reg:      reg,
		resolver: transcript.NewResolver(transcriptsRoot, cfg.TranscriptTolerance),
		parser:   transcript.NewParser(),
		engine:   engine,
		mode:     mode,
	}, nil
}

// Root returns the resolved context root.
func (m *Manager) Root() string {
	return m.root
}

// Mode returns the detected persistence mode.
func (m *Manager) Mode() persist.Mode {
	return m.mode
}

// Registry returns the session registry.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// Engine returns the context merge engine.
func (m *Manager) Engine() *merge.Engine {
	return m.engine
}

// resolveContextRoot locates workingDir/<context dir>, following a
// symlinked context dir exactly one hop. A resolved target is trusted
// only inside the working directory or the per-user data dir.
func resolveContextRoot(cfg config.Config, workingDir string) (string, error) {
	candidate := filepath.Join(workingDir, cfg.ContextDirName)

	info, err := os.Lstat(candidate)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(candidate, 0o755); mkErr != nil {
			return "", fmt.Errorf("create context root: %w", mkErr)
		}
		return filepath.Abs(candidate)
	}
	if err != nil {
		return "", err
	}

	if info.Mode()&os.ModeSymlink == 0 {
		return filepath.Abs(candidate)
	}

	resolved, err := paths.ResolveIndirection(candidate, "")
	if err != nil {
		return "", err
	}
	if !insideEither(resolved, workingDir, config.DataDir()) {
		return "", fmt.Errorf("context root indirection leaves project boundary: %s", resolved)
	}
	return resolved, nil
}

func insideEither(path, rootA, rootB string) bool {
	for _, root := range []string{rootA, rootB} {
		if root == "" {
			continue
		}
		if _, err := paths.Contain(root, path); err == nil {
			return true
		}
	}
	return false
}

// bumpClockInCounter increments the persisted clock-in counter and
// reports whether maintenance should run this time.
func (m *Manager) bumpClockInCounter() bool {
	path := filepath.Join(m.root, counterFileName)

	count := 0
	if data, err := os.ReadFile(path); err == nil {
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil {
			count = parsed
		}
	}
	count++

	if err := fsx.WriteFileAtomic(path, []byte(strconv.Itoa(count)+"\n"), 0o644); err != nil {
		log.Warn().Err(err).Msg("Could not persist clock-in counter")
	}
	return m.cfg.SweepEvery > 0 && count%m.cfg.SweepEvery == 0
}
