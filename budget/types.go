package budget

import (
	"fmt"
	"time"
)

// Policy holds the configured ceilings. A zero session or day ceiling
// disables that window; the per-request ceiling is mandatory. Immutable
// after NewLedger.
type Policy struct {
	PerRequestCeiling float64 `yaml:"per_request_ceiling" mapstructure:"per_request_ceiling"`
	PerSessionCeiling float64 `yaml:"per_session_ceiling" mapstructure:"per_session_ceiling"`
	PerDayCeiling     float64 `yaml:"per_day_ceiling" mapstructure:"per_day_ceiling"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	StrictMode        bool    `yaml:"strict_mode" mapstructure:"strict_mode"`
}

// UsageRecord is one settled spend. The ledger is the insertion-ordered
// multiset of all records still inside the retention window.
type UsageRecord struct {
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

// Scope is an accounting key under which usage is aggregated.
type Scope struct {
	UserID    string
	SessionID string
}

// CheckRequest is a proposed spend to evaluate against the policy.
type CheckRequest struct {
	EstimatedCost float64
	UserID        string
	SessionID     string
	RequestID     string
}

// Remaining reports headroom under each applicable ceiling. Session and
// Daily are nil when the corresponding ceiling or scope id is absent.
type Remaining struct {
	Request float64  `json:"request"`
	Session *float64 `json:"session,omitempty"`
	Daily   *float64 `json:"daily,omitempty"`
}

// CheckResult is the outcome of a budget evaluation.
type CheckResult struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Remaining Remaining `json:"remaining"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Stats aggregates settled usage for a scope.
type Stats struct {
	TotalCost    float64 `json:"totalCost"`
	DailyCost    float64 `json:"dailyCost"`
	SessionCost  float64 `json:"sessionCost"`
	RequestCount int     `json:"requestCount"`
}

// LimitKind names the ceiling a denial was measured against.
type LimitKind string

const (
	LimitRequest LimitKind = "request"
	LimitSession LimitKind = "session"
	LimitDaily   LimitKind = "daily"
)

// ExceededError is the strict-mode denial signal. It carries the numbers an
// operator needs; the caller decides whether to drop, downgrade, or queue.
type ExceededError struct {
	EstimatedCost float64
	Ceiling       float64
	Limit         LimitKind
	Scope         string
	Reason        string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s", e.Reason)
}
