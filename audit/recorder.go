package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

// Config controls entry construction and emission.
type Config struct {
	Service     string `yaml:"service" mapstructure:"service"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	// MinLevel drops lower-severity entries before construction: no id, no
	// hash, no emission happens for filtered levels.
	MinLevel Level `yaml:"min_level" mapstructure:"min_level"`
	// Denylist overrides DefaultDenylist when non-empty.
	Denylist      []string `yaml:"denylist" mapstructure:"denylist"`
	IntegrityHash bool     `yaml:"integrity_hash" mapstructure:"integrity_hash"`
}

// Record is the caller-supplied portion of an entry.
type Record struct {
	Action   Action
	Level    Level
	Message  string
	Metadata map[string]interface{}
	Err      error
	Context  Context
}

// Recorder builds structured, append-only audit entries with metadata
// redaction and an optional integrity hash, and emits them to a sink.
// Emission is best-effort: a sink failure never aborts the governed call,
// and a failed write falls back to the local logger so a denial decision is
// never silently lost.
type Recorder struct {
	service     string
	environment string
	minLevel    int
	denylist    []string
	hashing     bool
	sink        Sink
	logger      *logger.Logger
	seq         *atomic.Uint64
	bound       Context
	now         func() time.Time
}

// New validates the configuration and binds the recorder to a sink. A nil
// sink defaults to the zap sink over the supplied logger.
func New(cfg Config, sink Sink, log *logger.Logger) (*Recorder, error) {
	if cfg.Service == "" {
		return nil, fmt.Errorf("audit service name must not be empty")
	}
	minLevel := cfg.MinLevel
	if minLevel == "" {
		minLevel = LevelInfo
	}
	rank, ok := levelRank[minLevel]
	if !ok {
		return nil, fmt.Errorf("unknown audit level: %s", minLevel)
	}

	denylist := cfg.Denylist
	if len(denylist) == 0 {
		denylist = DefaultDenylist()
	}

	auditLog := log.WithComponent("audit")
	if sink == nil {
		sink = NewZapSink(auditLog)
	}

	return &Recorder{
		service:     cfg.Service,
		environment: cfg.Environment,
		minLevel:    rank,
		denylist:    denylist,
		hashing:     cfg.IntegrityHash,
		sink:        sink,
		logger:      auditLog,
		seq:         &atomic.Uint64{},
		now:         time.Now,
	}, nil
}

// Child returns a recorder that injects the given correlation fields into
// every subsequent entry. The parent is not mutated; the sequence counter
// and sink are shared.
func (r *Recorder) Child(ctx Context) *Recorder {
	child := *r
	child.bound = r.bound.merge(ctx)
	return &child
}

// Log builds, hashes, and emits one entry. Returns nil when the record's
// level is below the configured minimum.
func (r *Recorder) Log(ctx context.Context, rec Record) *Entry {
	level := rec.Level
	if level == "" {
		level = LevelInfo
	}
	rank, ok := levelRank[level]
	if !ok || rank < r.minLevel {
		return nil
	}

	ts := r.now().UTC()
	bound := r.bound.merge(rec.Context)

	entry := &Entry{
		ID:          r.newID(ts),
		Timestamp:   ts,
		Service:     r.service,
		Environment: r.environment,
		UserID:      bound.UserID,
		SessionID:   bound.SessionID,
		RequestID:   bound.RequestID,
		TraceID:     bound.TraceID,
		Action:      rec.Action,
		Level:       level,
		Message:     rec.Message,
		Metadata:    redactMetadata(rec.Metadata, r.denylist),
	}
	if rec.Err != nil {
		entry.Error = rec.Err.Error()
	}

	// The hash is computed after redaction and before emission; the entry
	// must not change afterward.
	if r.hashing {
		entry.IntegrityHash = integrityHash(entry)
	}

	if err := r.sink.Write(ctx, entry); err != nil {
		r.logger.Warn("audit sink write failed, falling back to local log",
			zap.Error(err),
			zap.String("entry_id", entry.ID),
			zap.String("action", string(entry.Action)),
			zap.Any("entry", entry),
		)
	}

	return entry
}

// LogRequest records an inbound governed request.
func (r *Recorder) LogRequest(ctx context.Context, message string, metadata map[string]interface{}) *Entry {
	return r.Log(ctx, Record{Action: ActionRequestReceived, Level: LevelInfo, Message: message, Metadata: metadata})
}

// LogResponse records a returned provider response.
func (r *Recorder) LogResponse(ctx context.Context, message string, metadata map[string]interface{}) *Entry {
	return r.Log(ctx, Record{Action: ActionResponseReturned, Level: LevelInfo, Message: message, Metadata: metadata})
}

// LogError records a failure in the governed pipeline.
func (r *Recorder) LogError(ctx context.Context, err error, metadata map[string]interface{}) *Entry {
	return r.Log(ctx, Record{Action: ActionError, Level: LevelError, Err: err, Metadata: metadata})
}

// LogGovernance records a policy decision from one of the governance
// components. Denials are logged at warn.
func (r *Recorder) LogGovernance(ctx context.Context, component string, allowed bool, metadata map[string]interface{}) *Entry {
	level := LevelInfo
	if !allowed {
		level = LevelWarn
	}
	// copy before annotating; the caller's map is not ours to mutate
	md := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		md[k] = v
	}
	md["component"] = component
	md["allowed"] = allowed
	return r.Log(ctx, Record{Action: ActionGovernanceDecision, Level: level, Metadata: md})
}

// newID produces a unique id from the timestamp, a process-wide sequence,
// and a random suffix. Uniqueness is required; global ordering is not.
func (r *Recorder) newID(ts time.Time) string {
	seq := r.seq.Add(1)
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%d-%06d-%s", ts.UnixNano(), seq%1_000_000, suffix)
}

// integrityHash digests the entry's canonical JSON form: marshal, round-trip
// through a map so keys come back sorted, drop the hash field itself, and
// sha256 the result. The timestamp is part of the hashed payload.
func integrityHash(entry *Entry) string {
	raw, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	var canonical map[string]interface{}
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return ""
	}
	delete(canonical, "integrityHash")

	payload, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity recomputes an entry's hash and compares it to the stored
// one. Detects accidental post-hoc tampering, not adversarial forgery.
func VerifyIntegrity(entry *Entry) bool {
	if entry.IntegrityHash == "" {
		return false
	}
	return integrityHash(entry) == entry.IntegrityHash
}
