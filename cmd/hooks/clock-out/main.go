// Package main provides the clock-out hook entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/thebtf/shiftbook/internal/config"
	"github.com/thebtf/shiftbook/internal/faults"
	"github.com/thebtf/shiftbook/internal/session"
	"github.com/thebtf/shiftbook/internal/synth"
	"github.com/thebtf/shiftbook/internal/transcript"
	"github.com/thebtf/shiftbook/pkg/hooks"
)

// Input is the hook input read from stdin.
type Input struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	HookEventName  string `json:"hook_event_name"`
	StopHookActive bool   `json:"stop_hook_active"`
	Branch         string `json:"branch"`
}

func main() {
	hooks.RunHook("ClockOut", func(ctx *hooks.Context, input *Input) (string, error) {
		// A stop hook firing while a previous stop is still being
		// handled must not loop.
		if input.StopHookActive {
			return "", nil
		}

		cfg, err := config.Load(config.SettingsPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[shiftbook] Warning: bad settings file, using defaults: %v\n", err)
		}

		manager, err := session.NewManager(cfg, input.CWD, config.TranscriptsRoot(), nil)
		if err != nil {
			return "", err
		}

		signals := synth.Signals{Branch: input.Branch}
		result, err := manager.ClockOut(context.Background(), input.SessionID, signals)
		if err != nil {
			// Never block the agent from stopping. An unlocatable
			// transcript is reported, not enforced.
			if errors.Is(err, transcript.ErrUnlocatable) || faults.KindOf(err) == faults.KindUnresolvable {
				fmt.Fprintf(os.Stderr, "[shiftbook] Warning: clock-out skipped: %v\n", err)
				return "", nil
			}
			return "", err
		}

		for _, step := range result.Degraded {
			fmt.Fprintf(os.Stderr, "[shiftbook] Warning: degraded clock-out: %s\n", step)
		}
		fmt.Fprintf(os.Stderr, "[shiftbook] Session archived to %s\n", result.ArchivePath)
		return "", nil
	})
}
