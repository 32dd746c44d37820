package models

import "time"

// AuditStatus is the processing state of a staged update request.
type AuditStatus string

const (
	AuditStatusPending   AuditStatus = "pending"
	AuditStatusProcessed AuditStatus = "processed"
)

// AuditEntry is one staged update request in the audit inbox. Entries are
// written before the update they describe is applied and are never
// deleted; marking one processed only records its ID in the processed
// index. The pending→processed transition happens exactly once.
type AuditEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Target    string      `json:"target"`
	Content   string      `json:"content"`
	Status    AuditStatus `json:"status"`
	SessionID string      `json:"session_id,omitempty"`
}
