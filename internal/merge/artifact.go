// Package merge applies updates to context artifacts: audit-staged,
// conflict-checked, size-gated, changelog-appended writes in direct
// mode, or event emission in anchor mode.
package merge

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/thebtf/shiftbook/internal/fsx"
	"github.com/thebtf/shiftbook/pkg/models"
)

const (
	changelogHeading = "## Changelog"
	// maxChangelogEntries caps the embedded changelog; older entries are
	// relocated to the history artifact, never dropped.
	maxChangelogEntries = 100
)

var changelogLineRegex = regexp.MustCompile(`^- (\S+) \[([^\]]*)\] (.*)$`)

// loadArtifact reads the artifact at path, splitting the body from the
// embedded changelog section. A missing file yields an empty artifact;
// the first write creates it.
func loadArtifact(path string) (models.Artifact, error) {
	artifact := models.Artifact{Path: path}

	data, err := os.ReadFile(path) // #nosec G304 -- path was containment-checked by the engine
	if os.IsNotExist(err) {
		return artifact, nil
	}
	if err != nil {
		return artifact, fmt.Errorf("read artifact: %w", err)
	}

	body, changelog := splitChangelog(string(data))
	artifact.Content = body
	artifact.Changelog = changelog
	artifact.LineCount = fsx.CountLines(body)
	return artifact, nil
}

// renderArtifact serializes body plus changelog back into one document.
func renderArtifact(body string, changelog []models.ChangelogEntry) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n\n")
	b.WriteString(changelogHeading)
	b.WriteString("\n")
	for _, entry := range changelog {
		fmt.Fprintf(&b, "- %s [%s] %s\n", entry.Timestamp.UTC().Format(time.RFC3339), entry.SessionID, entry.Reason)
	}
	return b.String()
}

// splitChangelog separates the body from the trailing changelog section.
// Unparseable changelog lines are kept in the body so nothing is lost.
func splitChangelog(content string) (string, []models.ChangelogEntry) {
	idx := strings.LastIndex(content, "\n"+changelogHeading+"\n")
	if idx < 0 {
		if strings.HasPrefix(content, changelogHeading+"\n") {
			idx = -1 // document that is nothing but changelog
		} else {
			return strings.TrimRight(content, "\n"), nil
		}
	}

	var body, section string
	if idx < 0 {
		body = ""
		section = strings.TrimPrefix(content, changelogHeading+"\n")
	} else {
		body = strings.TrimRight(content[:idx], "\n")
		section = content[idx+len(changelogHeading)+2:]
	}

	var entries []models.ChangelogEntry
	var leftover []string
	for _, line := range strings.Split(strings.TrimRight(section, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		match := changelogLineRegex.FindStringSubmatch(line)
		if match == nil {
			leftover = append(leftover, line)
			continue
		}
		ts, err := time.Parse(time.RFC3339, match[1])
		if err != nil {
			leftover = append(leftover, line)
			continue
		}
		entries = append(entries, models.ChangelogEntry{
			Timestamp: ts,
			SessionID: match[2],
			Reason:    match[3],
		})
	}

	if len(leftover) > 0 {
		if body != "" {
			body += "\n"
		}
		body += strings.Join(leftover, "\n")
	}
	return body, entries
}

// trimChangelog keeps the newest maxChangelogEntries entries live and
// returns the overflow for relocation to history.
func trimChangelog(entries []models.ChangelogEntry) (kept, overflow []models.ChangelogEntry) {
	if len(entries) <= maxChangelogEntries {
		return entries, nil
	}
	cut := len(entries) - maxChangelogEntries
	return entries[cut:], entries[:cut]
}

// historyPath derives the immutable history artifact location for a live
// artifact: context.md -> context.history.md.
func historyPath(artifactPath string) string {
	ext := extOf(artifactPath)
	if ext == "" {
		return artifactPath + ".history"
	}
	return strings.TrimSuffix(artifactPath, ext) + ".history" + ext
}

func extOf(path string) string {
	dot := strings.LastIndex(path, ".")
	slash := strings.LastIndex(path, "/")
	if dot <= slash {
		return ""
	}
	return path[dot:]
}
