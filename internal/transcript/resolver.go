package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/faults"
	"github.com/thebtf/shiftbook/internal/paths"
	"github.com/thebtf/shiftbook/pkg/models"
)

// ErrUnlocatable is returned when no fallback yields a readable
// transcript. Distinct so clock-out can refuse to produce an empty
// archive instead of silently archiving nothing.
var ErrUnlocatable = errors.New("transcript unlocatable")

// OverrideEnv is the escape-hatch directory override checked after the
// hint and the temporal scan.
const OverrideEnv = "SHIFTBOOK_TRANSCRIPT_DIR"

// Resolver locates a session's raw activity log through an ordered
// fallback chain. Every candidate is containment-checked against its
// expected root before it is trusted.
type Resolver struct {
	// Root is the directory under which per-project transcript dirs live.
	Root string
	// Tolerance is the mtime window for the temporal scan.
	Tolerance time.Duration
}

// NewResolver creates a Resolver over the given transcripts root.
func NewResolver(root string, tolerance time.Duration) *Resolver {
	return &Resolver{Root: root, Tolerance: tolerance}
}

// candidate produces an optional transcript location. The chain takes
// the first candidate that exists, is readable, and passes validation.
type candidate func() (path string, root string, ok bool)

// Resolve runs the fallback chain for sess: explicit hint, temporal
// scan, environment override, legacy path encoding.
func (r *Resolver) Resolve(sess models.Session) (string, error) {
	chain := []candidate{
		r.fromHint(sess),
		r.fromTemporalScan(sess),
		r.fromOverride(sess),
		r.fromLegacyEncoding(sess),
	}

	for _, next := range chain {
		rawPath, root, ok := next()
		if !ok {
			continue
		}
		validated, err := paths.Contain(root, rawPath)
		if err != nil {
			log.Warn().Err(err).Str("candidate", rawPath).Msg("Transcript candidate rejected")
			continue
		}
		if !readable(validated) {
			continue
		}
		return validated, nil
	}

	return "", faults.Wrap(ErrUnlocatable, faults.KindUnresolvable)
}

// fromHint uses the explicit path recorded at clock-in.
func (r *Resolver) fromHint(sess models.Session) candidate {
	return func() (string, string, bool) {
		if sess.TranscriptHint == "" {
			return "", "", false
		}
		return sess.TranscriptHint, r.Root, true
	}
}

// fromTemporalScan picks the most recently modified transcript in the
// project dir whose mtime falls within the tolerance of session start.
func (r *Resolver) fromTemporalScan(sess models.Session) candidate {
	return func() (string, string, bool) {
		dir := filepath.Join(r.Root, ProjectDirName(sess.WorkingDir))
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", "", false
		}

		var (
			best      string
			bestMtime time.Time
		)
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			mtime := info.ModTime()
			if mtime.Before(sess.CreatedAt.Add(-r.Tolerance)) {
				continue
			}
			if mtime.After(bestMtime) {
				best = filepath.Join(dir, entry.Name())
				bestMtime = mtime
			}
		}
		if best == "" {
			return "", "", false
		}
		return best, r.Root, true
	}
}

// fromOverride consults the escape-hatch directory override.
func (r *Resolver) fromOverride(sess models.Session) candidate {
	return func() (string, string, bool) {
		dir := os.Getenv(OverrideEnv)
		if dir == "" {
			return "", "", false
		}
		return filepath.Join(dir, sess.ID+".jsonl"), dir, true
	}
}

// fromLegacyEncoding builds the deterministic legacy location from the
// session's working directory.
func (r *Resolver) fromLegacyEncoding(sess models.Session) candidate {
	return func() (string, string, bool) {
		if sess.WorkingDir == "" {
			return "", "", false
		}
		encoded := LegacyEncode(sess.WorkingDir)
		return filepath.Join(r.Root, encoded, sess.ID+".jsonl"), r.Root, true
	}
}

// LegacyEncode flattens an absolute working directory into the historic
// one-level directory name: path separators become dashes.
func LegacyEncode(workingDir string) string {
	cleaned := filepath.Clean(workingDir)
	return strings.ReplaceAll(cleaned, string(filepath.Separator), "-")
}

func readable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	file, err := os.Open(path) // #nosec G304 -- path already containment-checked
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}
