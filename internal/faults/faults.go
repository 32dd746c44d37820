// Package faults classifies shiftbook errors so callers can pick a
// retry strategy from the kind instead of string-matching messages.
package faults

import "errors"

// Kind is the error taxonomy. Conflicts are advisory results, not
// errors, so they have no kind here.
type Kind string

const (
	// KindUnresolvable means a transcript or target artifact could not be
	// located. Fatal to the operation; no partial write was attempted.
	KindUnresolvable Kind = "unresolvable"
	// KindGateViolation means an integrity gate failed: a delegate claimed
	// compaction without evidence, or a snapshot write was attempted in
	// anchor mode. The operation is rejected before any durable write.
	KindGateViolation Kind = "gate_violation"
	// KindTransient means an external collaborator timed out or was
	// unavailable. Recovered via a fallback path, never fatal.
	KindTransient Kind = "transient"
	// KindSecurity means a path escaped its expected root. Fatal; no
	// filesystem access is granted.
	KindSecurity Kind = "security"
)

type classified struct {
	kind  Kind
	cause error
}

func (e *classified) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return e.cause.Error()
}

func (e *classified) Unwrap() error {
	return e.cause
}

// Wrap attaches a kind to cause. Returns nil for a nil cause.
func Wrap(cause error, kind Kind) error {
	if cause == nil {
		return nil
	}
	return &classified{kind: kind, cause: cause}
}

// KindOf returns the kind attached to err, or "" when unclassified.
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
