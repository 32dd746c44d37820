// Package paths validates every filesystem location shiftbook touches.
// A path that cannot be proven to live under its expected root is
// rejected before any read or write happens.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/faults"
)

// Contain resolves candidate against root and returns the cleaned
// absolute path, or a security fault if the result escapes root.
// Relative candidates are joined to root; absolute candidates must
// already be inside it.
func Contain(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}

	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(absRoot, joined)
	}
	joined = filepath.Clean(joined)

	if !within(absRoot, joined) {
		log.Warn().
			Str("root", absRoot).
			Str("candidate", candidate).
			Str("resolved", joined).
			Msg("Rejected path outside expected root")
		return "", faults.Wrap(fmt.Errorf("path %q escapes root %q", candidate, absRoot), faults.KindSecurity)
	}
	return joined, nil
}

// ResolveIndirection follows at most one symlink hop at path. A direct
// path is returned as-is; a symlink is resolved once and the target must
// not itself be a symlink. When allowedRoot is non-empty the resolved
// target must stay inside it.
func ResolveIndirection(path, allowedRoot string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return abs, nil
	}

	target, err := os.Readlink(abs)
	if err != nil {
		return "", fmt.Errorf("read link %s: %w", abs, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(abs), target)
	}
	target = filepath.Clean(target)

	// One hop only: a link pointing at another link is refused.
	targetInfo, err := os.Lstat(target)
	if err != nil {
		return "", err
	}
	if targetInfo.Mode()&os.ModeSymlink != 0 {
		return "", faults.Wrap(fmt.Errorf("indirection at %s chains through another link", abs), faults.KindSecurity)
	}

	if allowedRoot != "" {
		if _, err := Contain(allowedRoot, target); err != nil {
			return "", err
		}
	}
	return target, nil
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
