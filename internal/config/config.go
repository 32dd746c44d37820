// Package config provides configuration management for shiftbook.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLineCeiling is the maximum line count of a live context artifact.
	DefaultLineCeiling = 200
	// DefaultSweepEvery runs the stale-session sweep on every Nth clock-in.
	DefaultSweepEvery = 10
)

// Config holds all tunable behavior. Zero values are filled from
// Default() on load, so a partial settings file is fine.
type Config struct {
	// ContextDirName is the per-project context directory, resolved
	// relative to the working directory at clock-in.
	ContextDirName string
	// LineCeiling bounds live context artifacts; overflow moves to history.
	LineCeiling int
	// ConflictWindow is how far back the conflict detector looks for
	// changelog entries by other sessions.
	ConflictWindow time.Duration
	// SessionMaxAge is the age past which the reaper considers a session
	// abandoned.
	SessionMaxAge time.Duration
	// ArchiveRetention is how long raw transcript archives stay
	// uncompressed. Compressed archives are deleted after twice this.
	ArchiveRetention time.Duration
	// DelegateTimeout bounds the external synthesis call at clock-out.
	DelegateTimeout time.Duration
	// TranscriptTolerance is the mtime window used when matching a
	// transcript to a session start time.
	TranscriptTolerance time.Duration
	// SweepEvery runs maintenance (reaper + archive trim) on every Nth
	// clock-in.
	SweepEvery int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ContextDirName:      ".shiftbook",
		LineCeiling:         DefaultLineCeiling,
		ConflictWindow:      15 * time.Minute,
		SessionMaxAge:       24 * time.Hour,
		ArchiveRetention:    14 * 24 * time.Hour,
		DelegateTimeout:     60 * time.Second,
		TranscriptTolerance: 10 * time.Minute,
		SweepEvery:          DefaultSweepEvery,
	}
}

// DataDir returns the per-user data directory (~/.shiftbook), overridable
// via SHIFTBOOK_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("SHIFTBOOK_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shiftbook"
	}
	return filepath.Join(home, ".shiftbook")
}

// TranscriptsRoot returns the directory agent runtimes write raw
// transcripts under, overridable via SHIFTBOOK_TRANSCRIPTS_ROOT.
func TranscriptsRoot() string {
	if dir := os.Getenv("SHIFTBOOK_TRANSCRIPTS_ROOT"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".claude", "projects")
}

// SettingsPath returns the settings file location inside the data dir.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// duration wraps time.Duration with YAML string parsing ("15m", "24h").
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig is the on-disk shape; durations are human-readable strings.
type fileConfig struct {
	ContextDirName      string   `yaml:"context_dir_name"`
	LineCeiling         int      `yaml:"line_ceiling"`
	ConflictWindow      duration `yaml:"conflict_window"`
	SessionMaxAge       duration `yaml:"session_max_age"`
	ArchiveRetention    duration `yaml:"archive_retention"`
	DelegateTimeout     duration `yaml:"delegate_timeout"`
	TranscriptTolerance duration `yaml:"transcript_tolerance"`
	SweepEvery          int      `yaml:"sweep_every"`
}

// Load reads the settings file at path, filling unset fields from
// Default(). A missing file is not an error; it yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- settings path is derived from the user data dir
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, err
	}

	if file.ContextDirName != "" {
		cfg.ContextDirName = file.ContextDirName
	}
	if file.LineCeiling > 0 {
		cfg.LineCeiling = file.LineCeiling
	}
	if file.ConflictWindow > 0 {
		cfg.ConflictWindow = time.Duration(file.ConflictWindow)
	}
	if file.SessionMaxAge > 0 {
		cfg.SessionMaxAge = time.Duration(file.SessionMaxAge)
	}
	if file.ArchiveRetention > 0 {
		cfg.ArchiveRetention = time.Duration(file.ArchiveRetention)
	}
	if file.DelegateTimeout > 0 {
		cfg.DelegateTimeout = time.Duration(file.DelegateTimeout)
	}
	if file.TranscriptTolerance > 0 {
		cfg.TranscriptTolerance = time.Duration(file.TranscriptTolerance)
	}
	if file.SweepEvery > 0 {
		cfg.SweepEvery = file.SweepEvery
	}

	return cfg, nil
}
