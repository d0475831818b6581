package warden

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelhq/llm-warden/audit"
	"github.com/keelhq/llm-warden/budget"
	"github.com/keelhq/llm-warden/config"
	"github.com/keelhq/llm-warden/confidence"
	"github.com/keelhq/llm-warden/detect"
	"github.com/keelhq/llm-warden/logger"
)

func newTestEngine(t *testing.T, policy budget.Policy, captured *[]*audit.Entry) *Engine {
	t.Helper()
	log := logger.Nop()

	detector, err := detect.New(detect.Config{}, log)
	require.NoError(t, err)

	ledger, err := budget.NewLedger(policy, log)
	require.NoError(t, err)

	scorer, err := confidence.New(confidence.Config{MinConfidence: 0.6, MaxUncertainty: 0.5}, log)
	require.NoError(t, err)

	sink := audit.SinkFunc(func(_ context.Context, entry *audit.Entry) error {
		*captured = append(*captured, entry)
		return nil
	})
	recorder, err := audit.New(audit.Config{Service: "warden-test", IntegrityHash: true}, sink, log)
	require.NoError(t, err)

	return &Engine{
		Detector: detector,
		Ledger:   ledger,
		Scorer:   scorer,
		Recorder: recorder,
	}
}

func TestNew_FromDefaults(t *testing.T) {
	engine, err := New(config.GetDefaults(), logger.Nop())
	require.NoError(t, err)
	require.NotNil(t, engine.Detector)
	require.NotNil(t, engine.Ledger)
	require.NotNil(t, engine.Scorer)
	require.NotNil(t, engine.Recorder)
	assert.NoError(t, engine.Close())
}

func TestEngine_GovernedCallFlow(t *testing.T) {
	ctx := context.Background()
	var entries []*audit.Entry
	engine := newTestEngine(t, budget.Policy{PerRequestCeiling: 0.5, PerSessionCeiling: 1.0}, &entries)

	pre, err := engine.Preflight(ctx, Request{
		RequestID:       "r1",
		SessionID:       "s1",
		Model:           "gpt-4o",
		Prompt:          "my ssn is 123-45-6789",
		MaxOutputTokens: 100,
	})
	require.NoError(t, err)
	require.True(t, pre.Allowed)

	assert.True(t, pre.Detections.HasPII)
	assert.Contains(t, pre.Prompt, "[SSN-REDACTED]")
	assert.NotContains(t, pre.Prompt, "123-45-6789")
	assert.Greater(t, pre.EstimatedCost, 0.0)

	post, err := engine.Postflight(ctx, pre, Response{
		Content:      "The record was updated on 2026-08-26.",
		InputTokens:  100,
		OutputTokens: 50,
	})
	require.NoError(t, err)

	wantCost := budget.EstimateCost("gpt-4o", 100, 50)
	assert.InDelta(t, wantCost, post.Cost, 1e-9)
	assert.True(t, post.Evaluation.Passed)

	stats := engine.Ledger.UsageStats(budget.Scope{SessionID: "s1"})
	assert.InDelta(t, wantCost, stats.SessionCost, 1e-9)

	var actions []audit.Action
	for _, entry := range entries {
		assert.Equal(t, "r1", entry.RequestID, "child recorder must bind the request id")
		assert.True(t, audit.VerifyIntegrity(entry))
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []audit.Action{
		audit.ActionRequestReceived,
		audit.ActionGovernanceDecision, // detect
		audit.ActionGovernanceDecision, // budget
		audit.ActionResponseReturned,
		audit.ActionGovernanceDecision, // confidence
	}, actions)
}

func TestEngine_BudgetDenial(t *testing.T) {
	ctx := context.Background()
	var entries []*audit.Entry
	engine := newTestEngine(t, budget.Policy{PerRequestCeiling: 0.5}, &entries)

	pre, err := engine.Preflight(ctx, Request{
		RequestID:       "r1",
		Model:           "some-future-model", // conservative fallback pricing
		Prompt:          "hello",
		MaxOutputTokens: 10000,
	})
	require.NoError(t, err, "non-strict denial is a verdict, not an error")
	assert.False(t, pre.Allowed)
	assert.Contains(t, pre.Budget.Reason, "per-request ceiling")

	denial := entries[len(entries)-1]
	assert.Equal(t, audit.ActionGovernanceDecision, denial.Action)
	assert.Equal(t, audit.LevelWarn, denial.Level)
	assert.Equal(t, false, denial.Metadata["allowed"])
}

func TestEngine_StrictModeDenial(t *testing.T) {
	ctx := context.Background()
	var entries []*audit.Entry
	engine := newTestEngine(t, budget.Policy{PerRequestCeiling: 0.5, StrictMode: true}, &entries)

	pre, err := engine.Preflight(ctx, Request{
		RequestID:       "r1",
		Model:           "some-future-model",
		Prompt:          "hello",
		MaxOutputTokens: 10000,
	})
	require.Error(t, err)

	var exceeded *budget.ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, budget.LimitRequest, exceeded.Limit)
	assert.False(t, pre.Allowed)
}

func TestEngine_AbortReleasesReservation(t *testing.T) {
	ctx := context.Background()
	var entries []*audit.Entry
	engine := newTestEngine(t, budget.Policy{PerRequestCeiling: 0.5, PerSessionCeiling: 0.5}, &entries)

	req := Request{RequestID: "r1", SessionID: "s1", Model: "gpt-4", Prompt: "question", MaxOutputTokens: 5000}
	pre, err := engine.Preflight(ctx, req)
	require.NoError(t, err)
	require.True(t, pre.Allowed)

	engine.Abort(ctx, pre, errors.New("provider timeout"))

	stats := engine.Ledger.UsageStats(budget.Scope{SessionID: "s1"})
	assert.Zero(t, stats.SessionCost, "aborted calls never record usage")

	req.RequestID = "r2"
	pre2, err := engine.Preflight(ctx, req)
	require.NoError(t, err)
	assert.True(t, pre2.Allowed, "cancelled hold must free its budget")

	var found bool
	for _, entry := range entries {
		if entry.Action == audit.ActionError {
			found = true
			assert.Equal(t, "provider timeout", entry.Error)
		}
	}
	assert.True(t, found, "the abort must be audited")
}

func TestEngine_PostflightCostSettlement(t *testing.T) {
	ctx := context.Background()
	var entries []*audit.Entry

	t.Run("provider-reported cost wins", func(t *testing.T) {
		engine := newTestEngine(t, budget.Policy{PerRequestCeiling: 0.5, PerSessionCeiling: 5}, &entries)
		pre, err := engine.Preflight(ctx, Request{SessionID: "s1", Model: "gpt-4o", Prompt: "q", MaxOutputTokens: 100})
		require.NoError(t, err)

		post, err := engine.Postflight(ctx, pre, Response{Content: "Answer.", ActualCost: 0.02})
		require.NoError(t, err)
		assert.InDelta(t, 0.02, post.Cost, 1e-9)
		assert.InDelta(t, 0.02, engine.Ledger.UsageStats(budget.Scope{SessionID: "s1"}).SessionCost, 1e-9)
	})

	t.Run("no signal settles at the estimate", func(t *testing.T) {
		engine := newTestEngine(t, budget.Policy{PerRequestCeiling: 0.5, PerSessionCeiling: 5}, &entries)
		pre, err := engine.Preflight(ctx, Request{SessionID: "s2", Model: "gpt-4o", Prompt: "q", MaxOutputTokens: 100})
		require.NoError(t, err)

		post, err := engine.Postflight(ctx, pre, Response{Content: "Answer."})
		require.NoError(t, err)
		assert.InDelta(t, pre.EstimatedCost, post.Cost, 1e-9)
	})
}

func TestEngine_RateLimit(t *testing.T) {
	ctx := context.Background()
	var entries []*audit.Entry
	engine := newTestEngine(t, budget.Policy{PerRequestCeiling: 0.5, RequestsPerMinute: 1}, &entries)

	req := Request{SessionID: "s1", Model: "gpt-4o", Prompt: "q", MaxOutputTokens: 10}
	pre, err := engine.Preflight(ctx, req)
	require.NoError(t, err)
	require.True(t, pre.Allowed)
	engine.Abort(ctx, pre, errors.New("skipped"))

	pre2, err := engine.Preflight(ctx, req)
	require.NoError(t, err)
	assert.False(t, pre2.Allowed)
	assert.Equal(t, ErrRateLimited.Error(), pre2.Budget.Reason)
}
