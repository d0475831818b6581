package budget

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

const (
	// RetentionWindow bounds ledger memory: records older than this are
	// pruned lazily on every write.
	RetentionWindow = 7 * 24 * time.Hour

	dayWindow = 24 * time.Hour
	warnRatio = 0.8
)

// Ledger tracks spend per scope and evaluates proposed costs against the
// configured ceilings. One instance is shared by all request handlers; all
// methods are safe for concurrent use.
//
// The check-then-record race is closed with reservations: Reserve evaluates
// the ceilings including every outstanding hold and, when allowed, holds
// the estimate until Commit or Cancel. No lock is held across the provider
// call, and concurrent reservations against one scope can never jointly
// overspend a ceiling.
type Ledger struct {
	policy Policy
	logger *logger.Logger
	store  Store
	guard  *rateGuard
	now    func() time.Time

	mu       sync.Mutex
	records  []UsageRecord
	pending  map[uint64]UsageRecord
	nextHold uint64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore attaches a write-through usage mirror. The in-memory ledger
// stays authoritative; mirror failures are logged and never affect the
// budget decision.
func WithStore(store Store) Option {
	return func(l *Ledger) { l.store = store }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger validates the policy and returns an empty ledger.
func NewLedger(policy Policy, log *logger.Logger, opts ...Option) (*Ledger, error) {
	if policy.PerRequestCeiling <= 0 {
		return nil, fmt.Errorf("per-request ceiling must be positive, got %v", policy.PerRequestCeiling)
	}
	if policy.PerSessionCeiling < 0 {
		return nil, fmt.Errorf("per-session ceiling must not be negative, got %v", policy.PerSessionCeiling)
	}
	if policy.PerDayCeiling < 0 {
		return nil, fmt.Errorf("per-day ceiling must not be negative, got %v", policy.PerDayCeiling)
	}
	if policy.RequestsPerMinute < 0 {
		return nil, fmt.Errorf("requests per minute must not be negative, got %d", policy.RequestsPerMinute)
	}

	l := &Ledger{
		policy:  policy,
		logger:  log.WithComponent("budget"),
		now:     time.Now,
		pending: make(map[uint64]UsageRecord),
	}
	if policy.RequestsPerMinute > 0 {
		l.guard = newRateGuard(policy.RequestsPerMinute)
	}
	for _, opt := range opts {
		opt(l)
	}

	l.logger.Info("cost ledger initialized",
		zap.Float64("per_request_ceiling", policy.PerRequestCeiling),
		zap.Float64("per_session_ceiling", policy.PerSessionCeiling),
		zap.Float64("per_day_ceiling", policy.PerDayCeiling),
		zap.Bool("strict_mode", policy.StrictMode),
	)
	return l, nil
}

// Policy returns a copy of the configured policy.
func (l *Ledger) Policy() Policy { return l.policy }

// CheckBudget evaluates a proposed cost without reserving it. In strict
// mode a denial additionally returns an *ExceededError; otherwise the
// caller branches on Allowed. Callers pairing this with RecordUsage around
// a provider call should use Reserve instead, which makes the pair atomic.
func (l *Ledger) CheckBudget(req CheckRequest) (*CheckResult, error) {
	l.mu.Lock()
	result, exceeded := l.evaluateLocked(req, l.now())
	l.mu.Unlock()

	if !result.Allowed && l.policy.StrictMode {
		return result, exceeded
	}
	return result, nil
}

// Reserve evaluates the budget and, when allowed, holds the estimate as a
// pending spend until the returned reservation is committed or cancelled.
// The denial behavior matches CheckBudget.
func (l *Ledger) Reserve(req CheckRequest) (*Reservation, *CheckResult, error) {
	now := l.now()

	l.mu.Lock()
	result, exceeded := l.evaluateLocked(req, now)
	var id uint64
	if result.Allowed {
		id = l.nextHold
		l.nextHold++
		l.pending[id] = UsageRecord{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			RequestID: req.RequestID,
			Cost:      req.EstimatedCost,
			Timestamp: now,
		}
	}
	l.mu.Unlock()

	if !result.Allowed {
		if l.policy.StrictMode {
			return nil, result, exceeded
		}
		return nil, result, nil
	}
	return &Reservation{ledger: l, id: id}, result, nil
}

// RecordUsage appends a settled spend and prunes records that fell out of
// the retention window. Call it once per request, only after a successful
// provider call.
func (l *Ledger) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.Cost < 0 {
		return fmt.Errorf("usage cost must not be negative, got %v", rec.Cost)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.pruneLocked(l.now())
	l.mu.Unlock()

	l.mirror(ctx, rec)
	return nil
}

// UsageStats aggregates settled usage for a scope by linear scan. At the
// expected scale (single process, 7-day window) no index is worth keeping.
func (l *Ledger) UsageStats(scope Scope) Stats {
	now := l.now()
	dayCutoff := now.Add(-dayWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Stats
	for _, rec := range l.records {
		byUser := scope.UserID != "" && rec.UserID == scope.UserID
		bySession := scope.SessionID != "" && rec.SessionID == scope.SessionID
		if !byUser && !bySession {
			continue
		}
		stats.TotalCost += rec.Cost
		stats.RequestCount++
		if rec.Timestamp.After(dayCutoff) {
			stats.DailyCost += rec.Cost
		}
		if bySession {
			stats.SessionCost += rec.Cost
		}
	}
	return stats
}

// RateAllowed applies the per-scope request-rate guard. Always true when no
// RequestsPerMinute ceiling is configured.
func (l *Ledger) RateAllowed(req CheckRequest) bool {
	if l.guard == nil {
		return true
	}
	key := req.SessionID
	if key == "" {
		key = req.UserID
	}
	if key == "" {
		key = "global"
	}
	return l.guard.allow(key, l.now())
}

// Rehydrate replaces the in-memory records with the mirror's contents.
// Intended for startup, before the ledger takes traffic.
func (l *Ledger) Rehydrate(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("no usage store configured")
	}
	now := l.now()
	records, err := l.store.Load(ctx, now.Add(-RetentionWindow))
	if err != nil {
		return fmt.Errorf("failed to load usage records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })

	l.mu.Lock()
	l.records = records
	l.pruneLocked(now)
	l.mu.Unlock()

	l.logger.Info("ledger rehydrated from store", zap.Int("records", len(records)))
	return nil
}

// evaluateLocked applies the ceilings in order: request, session, day. The
// per-request check ignores scope state entirely. Pending reservations
// count toward the session and day sums. Warnings fire at 80% of a window
// ceiling whether or not the request is allowed.
func (l *Ledger) evaluateLocked(req CheckRequest, now time.Time) (*CheckResult, *ExceededError) {
	result := &CheckResult{Allowed: true}
	result.Remaining.Request = l.policy.PerRequestCeiling - req.EstimatedCost

	if req.EstimatedCost > l.policy.PerRequestCeiling {
		result.Allowed = false
		result.Reason = fmt.Sprintf("estimated cost %.4f exceeds per-request ceiling %.4f",
			req.EstimatedCost, l.policy.PerRequestCeiling)
		return result, &ExceededError{
			EstimatedCost: req.EstimatedCost,
			Ceiling:       l.policy.PerRequestCeiling,
			Limit:         LimitRequest,
			Scope:         req.RequestID,
			Reason:        result.Reason,
		}
	}

	var exceeded *ExceededError

	if req.SessionID != "" && l.policy.PerSessionCeiling > 0 {
		spent := l.sumLocked(func(rec UsageRecord) bool { return rec.SessionID == req.SessionID }, time.Time{})
		projected := spent + req.EstimatedCost
		remaining := l.policy.PerSessionCeiling - projected
		result.Remaining.Session = &remaining

		if projected >= warnRatio*l.policy.PerSessionCeiling {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"session %s at %.0f%% of ceiling %.4f", req.SessionID,
				projected/l.policy.PerSessionCeiling*100, l.policy.PerSessionCeiling))
		}
		if projected > l.policy.PerSessionCeiling {
			result.Allowed = false
			result.Reason = fmt.Sprintf("session spend %.4f plus estimate %.4f would exceed session ceiling %.4f",
				spent, req.EstimatedCost, l.policy.PerSessionCeiling)
			exceeded = &ExceededError{
				EstimatedCost: req.EstimatedCost,
				Ceiling:       l.policy.PerSessionCeiling,
				Limit:         LimitSession,
				Scope:         req.SessionID,
				Reason:        result.Reason,
			}
		}
	}

	if req.UserID != "" && l.policy.PerDayCeiling > 0 {
		cutoff := now.Add(-dayWindow)
		spent := l.sumLocked(func(rec UsageRecord) bool { return rec.UserID == req.UserID }, cutoff)
		projected := spent + req.EstimatedCost
		remaining := l.policy.PerDayCeiling - projected
		result.Remaining.Daily = &remaining

		if projected >= warnRatio*l.policy.PerDayCeiling {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"user %s at %.0f%% of daily ceiling %.4f", req.UserID,
				projected/l.policy.PerDayCeiling*100, l.policy.PerDayCeiling))
		}
		if projected > l.policy.PerDayCeiling && result.Allowed {
			result.Allowed = false
			result.Reason = fmt.Sprintf("daily spend %.4f plus estimate %.4f would exceed daily ceiling %.4f",
				spent, req.EstimatedCost, l.policy.PerDayCeiling)
			exceeded = &ExceededError{
				EstimatedCost: req.EstimatedCost,
				Ceiling:       l.policy.PerDayCeiling,
				Limit:         LimitDaily,
				Scope:         req.UserID,
				Reason:        result.Reason,
			}
		}
	}

	return result, exceeded
}

// sumLocked adds settled and pending costs matching the predicate, ignoring
// entries at or before the cutoff (zero cutoff means no time bound).
func (l *Ledger) sumLocked(match func(UsageRecord) bool, cutoff time.Time) float64 {
	var sum float64
	for _, rec := range l.records {
		if !cutoff.IsZero() && !rec.Timestamp.After(cutoff) {
			continue
		}
		if match(rec) {
			sum += rec.Cost
		}
	}
	for _, rec := range l.pending {
		if !cutoff.IsZero() && !rec.Timestamp.After(cutoff) {
			continue
		}
		if match(rec) {
			sum += rec.Cost
		}
	}
	return sum
}

func (l *Ledger) pruneLocked(now time.Time) {
	cutoff := now.Add(-RetentionWindow)
	keep := l.records[:0]
	for _, rec := range l.records {
		if rec.Timestamp.After(cutoff) {
			keep = append(keep, rec)
		}
	}
	l.records = keep
}

func (l *Ledger) mirror(ctx context.Context, rec UsageRecord) {
	if l.store == nil {
		return
	}
	if err := l.store.Append(ctx, rec); err != nil {
		l.logger.Warn("failed to mirror usage record",
			zap.Error(err),
			zap.String("request_id", rec.RequestID),
		)
	}
}

// Reservation is a pending hold created by Reserve. Exactly one of Commit
// or Cancel settles it; later calls are no-ops.
type Reservation struct {
	ledger *Ledger
	id     uint64
}

// Commit converts the hold into a settled UsageRecord. A non-negative
// actualCost replaces the estimate; pass a negative value to settle at the
// estimated cost.
func (r *Reservation) Commit(ctx context.Context, actualCost float64) error {
	l := r.ledger

	l.mu.Lock()
	rec, ok := l.pending[r.id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("reservation already settled")
	}
	delete(l.pending, r.id)
	if actualCost >= 0 {
		rec.Cost = actualCost
	}
	rec.Timestamp = l.now()
	l.records = append(l.records, rec)
	l.pruneLocked(rec.Timestamp)
	l.mu.Unlock()

	l.mirror(ctx, rec)
	return nil
}

// Cancel drops the hold without recording usage, e.g. after a failed
// provider call.
func (r *Reservation) Cancel() {
	l := r.ledger
	l.mu.Lock()
	delete(l.pending, r.id)
	l.mu.Unlock()
}
