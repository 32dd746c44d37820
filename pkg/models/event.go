package models

import "time"

// EventType classifies an anchor-mode event.
type EventType string

const (
	// EventTypeContextUpdate records an intended change to a context artifact.
	EventTypeContextUpdate EventType = "context_update"
	// EventTypeSessionSummary records a clocked-out session's distilled summary.
	EventTypeSessionSummary EventType = "session_summary"
)

// Event is an immutable, append-only record of an intended change,
// written to a dated event log in anchor mode. The canonical snapshot is
// synthesized from events by an external collaborator and is never
// written by this module.
type Event struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Type      EventType    `json:"type"`
	Payload   EventPayload `json:"payload"`
}

// EventPayload carries the intended change. InboxUUID links the event
// back to the audit inbox entry that staged it.
type EventPayload struct {
	Target    string `json:"target"`
	Intent    string `json:"intent"`
	Content   string `json:"content"`
	InboxUUID string `json:"inbox_uuid"`
}
