// Package compact enforces the line ceiling on live context artifacts.
// Overflow is relocated verbatim into an append-only history file; the
// live artifact plus its history are together content-lossless.
package compact

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/shiftbook/internal/faults"
	"github.com/thebtf/shiftbook/internal/fsx"
)

// MarkerPrefix opens each archived block in the history file.
const MarkerPrefix = "--- archived "

// Gate is the size policy for one artifact.
type Gate struct {
	// Ceiling is the maximum line count of live content.
	Ceiling int
}

// New returns a Gate with the given ceiling.
func New(ceiling int) *Gate {
	return &Gate{Ceiling: ceiling}
}

// Result describes what a gate application did.
type Result struct {
	Live       string
	Compacted  bool
	MovedLines int
}

// Apply trims live content under the ceiling by moving its oldest
// self-contained sections into historyPath. The trim is only accepted
// after the history file provably grew by the moved content; on any
// verification failure the original live content is returned untouched.
func (g *Gate) Apply(live, historyPath string) (Result, error) {
	if g.Ceiling <= 0 || fsx.CountLines(live) <= g.Ceiling {
		return Result{Live: live}, nil
	}

	sections := Split(live)
	if len(sections) < 2 {
		// A single indivisible section is left alone rather than cut
		// mid-thought; the ceiling is a policy, losslessness is a law.
		log.Warn().Int("lines", fsx.CountLines(live)).Msg("Artifact over ceiling but has no divisible section")
		return Result{Live: live}, nil
	}

	moved := 0
	for moved < len(sections)-1 {
		moved++
		if fsx.CountLines(strings.Join(sections[moved:], "\n\n")) <= g.Ceiling {
			break
		}
	}

	archived := strings.Join(sections[:moved], "\n\n")
	remaining := strings.Join(sections[moved:], "\n\n")

	before, err := historySize(historyPath)
	if err != nil {
		return Result{Live: live}, err
	}

	block := fmt.Sprintf("%s%s ---\n%s", MarkerPrefix, time.Now().UTC().Format(time.RFC3339), archived)
	if err := fsx.AppendLine(historyPath, []byte(block), 0o644); err != nil {
		return Result{Live: live}, fmt.Errorf("archive overflow: %w", err)
	}

	after, err := historySize(historyPath)
	if err != nil {
		return Result{Live: live}, err
	}
	if after < before+int64(len(archived)) {
		return Result{Live: live}, faults.Wrap(
			fmt.Errorf("history artifact did not grow (before=%d after=%d moved=%d)", before, after, len(archived)),
			faults.KindGateViolation,
		)
	}

	log.Info().
		Int("moved_lines", fsx.CountLines(archived)).
		Int("remaining_lines", fsx.CountLines(remaining)).
		Str("history", historyPath).
		Msg("Compacted artifact overflow into history")

	return Result{
		Live:       remaining,
		Compacted:  true,
		MovedLines: fsx.CountLines(archived),
	}, nil
}

// Split breaks content into self-contained sections. "## " headings are
// the primary boundary; content with no headings falls back to
// blank-line paragraphs. The concatenation of the returned sections with
// "\n\n" preserves all non-boundary text.
func Split(content string) []string {
	trimmed := strings.TrimRight(content, "\n")
	if trimmed == "" {
		return nil
	}

	lines := strings.Split(trimmed, "\n")
	var sections []string
	var current []string

	hasHeading := false
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			hasHeading = true
			break
		}
	}

	if !hasHeading {
		for _, block := range strings.Split(trimmed, "\n\n") {
			if strings.TrimSpace(block) != "" {
				sections = append(sections, block)
			}
		}
		return sections
	}

	flush := func() {
		if len(current) > 0 {
			sections = append(sections, strings.TrimRight(strings.Join(current, "\n"), "\n"))
			current = nil
		}
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return sections
}

// HistorySize returns the byte size of the history artifact, zero when
// it does not exist yet.
func HistorySize(path string) (int64, error) {
	return historySize(path)
}

func historySize(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat history artifact: %w", err)
	}
	return info.Size(), nil
}
