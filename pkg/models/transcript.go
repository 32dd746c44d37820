package models

import "time"

// RecordKind discriminates the variants of a transcript record.
type RecordKind string

const (
	// RecordKindExchange is a plain text exchange between a role and the agent.
	RecordKindExchange RecordKind = "exchange"
	// RecordKindToolCall is a tool invocation with its parameters.
	RecordKindToolCall RecordKind = "tool_call"
	// RecordKindToolResult is the output produced by a tool invocation.
	RecordKindToolResult RecordKind = "tool_result"
)

// TranscriptRecord is one structured entry derived from an agent's raw
// activity log. Exactly one of Exchange, ToolCall, ToolResult is set,
// according to Kind. Records are derived, never authoritative: the raw
// log line they came from is preserved byte-for-byte in Raw.
type TranscriptRecord struct {
	Kind       RecordKind  `json:"kind"`
	Timestamp  time.Time   `json:"timestamp,omitempty"`
	Exchange   *Exchange   `json:"exchange,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Raw        string      `json:"-"`
	Tokens     int         `json:"tokens,omitempty"`
}

// Exchange is a text message with its originating role.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a tool invocation. Params holds the invocation parameters
// after sensitive values have been redacted; raw parameters never leave
// the parser.
type ToolCall struct {
	Name   string            `json:"name"`
	CallID string            `json:"call_id"`
	Params map[string]string `json:"params,omitempty"`
}

// ToolResult is the output of a tool invocation, paired to the call by
// CallID. Summary is a size-bounded excerpt of Output suitable for
// inclusion in session summaries.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output,omitempty"`
	Summary string `json:"summary"`
}

// Transcript is the parsed form of one session's activity log, paired
// with totals computed during the parse.
type Transcript struct {
	Records      []TranscriptRecord
	TotalTokens  int
	SkippedLines int
}
