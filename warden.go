// Package warden gates calls to an LLM provider with a chain of policy
// checks: sensitive-data detection and redaction, multi-window cost budget
// enforcement, response-confidence scoring, and tamper-evident audit
// recording.
//
// The four components are independent and never call each other; pipeline
// ordering is the caller's policy decision. Engine wires them from one
// configuration and offers the canonical pre-flight/post-flight composition
// around a provider call the host performs itself; this package performs
// no provider I/O.
package warden

import (
	"context"
	"fmt"

	"github.com/keelhq/llm-warden/audit"
	"github.com/keelhq/llm-warden/budget"
	"github.com/keelhq/llm-warden/config"
	"github.com/keelhq/llm-warden/confidence"
	"github.com/keelhq/llm-warden/detect"
	"github.com/keelhq/llm-warden/logger"
)

// Engine holds one configured instance of each governance component. The
// ledger is the only stateful member and is shared by every concurrent
// request handler; the other three are pure per call.
type Engine struct {
	Detector *detect.Detector
	Ledger   *budget.Ledger
	Scorer   *confidence.Scorer
	Recorder *audit.Recorder

	logger *logger.Logger
	closer []func() error
}

// New wires the engine from configuration. Construction validates every
// component config and fails fast; nothing is partially applied.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	engine := &Engine{logger: log.WithComponent("warden")}

	detector, err := detect.New(cfg.Detector, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern detector: %w", err)
	}
	engine.Detector = detector

	var ledgerOpts []budget.Option
	if cfg.Budget.Redis.Enabled {
		store, err := budget.NewRedisStore(cfg.Budget.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build usage store: %w", err)
		}
		ledgerOpts = append(ledgerOpts, budget.WithStore(store))
		engine.closer = append(engine.closer, store.Close)
	}
	ledger, err := budget.NewLedger(cfg.Budget.Policy, log, ledgerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build cost ledger: %w", err)
	}
	engine.Ledger = ledger

	scorer, err := confidence.New(cfg.Confidence, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build confidence scorer: %w", err)
	}
	engine.Scorer = scorer

	sinks := audit.MultiSink{audit.NewZapSink(log.WithComponent("audit"))}
	if cfg.Audit.File.Enabled {
		fileSink, err := audit.NewFileSink(cfg.Audit.File.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file sink: %w", err)
		}
		sinks = append(sinks, fileSink)
		engine.closer = append(engine.closer, fileSink.Close)
	}
	if cfg.Audit.Postgres.Enabled {
		pgSink, err := audit.NewPostgresSink(cfg.Audit.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build audit trail store: %w", err)
		}
		if err := pgSink.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		sinks = append(sinks, pgSink)
		engine.closer = append(engine.closer, pgSink.Close)
	}

	recorder, err := audit.New(audit.Config{
		Service:       cfg.Service.Name,
		Environment:   cfg.Service.Environment,
		MinLevel:      audit.Level(cfg.Audit.MinLevel),
		Denylist:      cfg.Audit.Denylist,
		IntegrityHash: cfg.Audit.IntegrityHash,
	}, sinks, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit recorder: %w", err)
	}
	engine.Recorder = recorder

	return engine, nil
}

// Close releases engine-owned resources (usage store, audit sinks).
func (e *Engine) Close() error {
	var firstErr error
	for _, close := range e.closer {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
