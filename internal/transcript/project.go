package transcript

import (
	"github.com/thebtf/shiftbook/pkg/hooks"
)

// ProjectDirName returns the per-project transcript directory name for a
// working directory. It is the project identity string ("dirname_abc123")
// so the resolver and the hook harness can never disagree on the
// encoding.
func ProjectDirName(workingDir string) string {
	return hooks.ProjectID(workingDir)
}
