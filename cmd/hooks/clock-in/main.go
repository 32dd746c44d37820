// Package main provides the clock-in hook entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thebtf/shiftbook/internal/config"
	"github.com/thebtf/shiftbook/internal/session"
	"github.com/thebtf/shiftbook/pkg/hooks"
)

// Input is the hook input read from stdin.
type Input struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	HookEventName  string `json:"hook_event_name"`
	Focus          string `json:"focus"`
	Source         string `json:"source"` // "startup", "resume", "clear", "compact"
}

func main() {
	hooks.RunHook("ClockIn", func(ctx *hooks.Context, input *Input) (string, error) {
		cfg, err := config.Load(config.SettingsPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[shiftbook] Warning: bad settings file, using defaults: %v\n", err)
		}

		manager, err := session.NewManager(cfg, input.CWD, config.TranscriptsRoot(), nil)
		if err != nil {
			return "", err
		}

		focus := strings.TrimSpace(input.Focus)
		if focus == "" {
			focus = filepath.Base(input.CWD)
		}

		result, err := manager.ClockIn(focus, input.CWD, input.TranscriptPath)
		if err != nil {
			return "", err
		}

		for _, conflict := range result.Conflicts {
			fmt.Fprintf(os.Stderr, "[shiftbook] Warning: session %s is already working on %q\n",
				conflict.SessionID, conflict.Focus)
		}

		return buildContext(result), nil
	})
}

// buildContext renders the accumulated project context for injection.
// Absence of a context file is normal on a fresh project and injects
// nothing.
func buildContext(result *session.ClockInResult) string {
	if result.Paths.ContextFile == "" {
		return ""
	}

	content, err := os.ReadFile(result.Paths.ContextFile) // #nosec G304 -- path comes from the session manager
	if err != nil || len(content) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<shiftbook-context>\n")
	b.WriteString("# Project Context\n")
	b.WriteString("Accumulated by earlier sessions. Use it instead of re-exploring.\n\n")
	b.Write(content)
	if !strings.HasSuffix(string(content), "\n") {
		b.WriteString("\n")
	}

	if constraints, err := os.ReadFile(result.Paths.ConstraintsFile); err == nil && len(constraints) > 0 { // #nosec G304
		b.WriteString("\n# Standing Constraints\n")
		b.Write(constraints)
		if !strings.HasSuffix(string(constraints), "\n") {
			b.WriteString("\n")
		}
	}

	b.WriteString("</shiftbook-context>")
	return b.String()
}
