package audit

import "time"

// Level is an entry severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Action is the fixed vocabulary used by the typed log helpers.
type Action string

const (
	ActionRequestReceived    Action = "request.received"
	ActionResponseReturned   Action = "response.returned"
	ActionGovernanceDecision Action = "governance.decision"
	ActionError              Action = "error"
)

// Entry is one append-only audit record. Created once and immutable
// afterward; the integrity hash covers the entry's own canonicalized
// fields, so any later mutation invalidates it.
type Entry struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Service       string                 `json:"service"`
	Environment   string                 `json:"environment"`
	UserID        string                 `json:"userId,omitempty"`
	SessionID     string                 `json:"sessionId,omitempty"`
	RequestID     string                 `json:"requestId,omitempty"`
	TraceID       string                 `json:"traceId,omitempty"`
	Action        Action                 `json:"action"`
	Level         Level                  `json:"level"`
	Message       string                 `json:"message,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Error         string                 `json:"error,omitempty"`
	IntegrityHash string                 `json:"integrityHash,omitempty"`
}

// Context carries correlation ids bound into entries by Child.
type Context struct {
	RequestID string
	UserID    string
	SessionID string
	TraceID   string
}

func (c Context) merge(override Context) Context {
	out := c
	if override.RequestID != "" {
		out.RequestID = override.RequestID
	}
	if override.UserID != "" {
		out.UserID = override.UserID
	}
	if override.SessionID != "" {
		out.SessionID = override.SessionID
	}
	if override.TraceID != "" {
		out.TraceID = override.TraceID
	}
	return out
}
