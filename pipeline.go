package warden

import (
	"context"
	"errors"

	"github.com/keelhq/llm-warden/audit"
	"github.com/keelhq/llm-warden/budget"
	"github.com/keelhq/llm-warden/confidence"
	"github.com/keelhq/llm-warden/detect"
)

// Request is one governed provider call about to happen.
type Request struct {
	RequestID string
	UserID    string
	SessionID string
	TraceID   string

	Model           string
	Prompt          string
	MaxOutputTokens int
}

// Response is what came back from the provider.
type Response struct {
	Content         string
	ModelConfidence *float64
	Category        string
	Citations       []string

	InputTokens  int
	OutputTokens int
	// ActualCost, when positive, settles the budget reservation at the
	// provider-reported cost instead of the token-derived estimate.
	ActualCost float64
}

// Preflight is the pre-call verdict. When Allowed is false the caller must
// not perform the provider call; the reservation, if any, rides along until
// Postflight or Abort settles it.
type Preflight struct {
	Request       Request
	Prompt        string // mode-selected rewrite of the original prompt
	Detections    detect.Result
	EstimatedCost float64
	Budget        *budget.CheckResult
	Allowed       bool

	reservation *budget.Reservation
	recorder    *audit.Recorder
}

// Postflight is the post-call verdict.
type Postflight struct {
	Evaluation confidence.Evaluation
	Cost       float64
}

// ErrRateLimited reports a denial from the request-rate guard rather than a
// cost ceiling.
var ErrRateLimited = errors.New("request rate ceiling exceeded")

// Preflight runs the pre-call policy chain: redact the prompt, estimate the
// cost, reserve budget, and audit each decision. On a strict-mode budget
// denial the returned error is the ledger's *budget.ExceededError.
func (e *Engine) Preflight(ctx context.Context, req Request) (*Preflight, error) {
	recorder := e.Recorder.Child(audit.Context{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		TraceID:   req.TraceID,
	})

	recorder.LogRequest(ctx, "governed request received", map[string]interface{}{
		"model":         req.Model,
		"prompt_length": len(req.Prompt),
	})

	detections := e.Detector.Process(req.Prompt)
	if detections.HasPII {
		types := make([]string, 0, len(detections.Detections))
		for _, d := range detections.Detections {
			types = append(types, string(d.Type))
		}
		recorder.LogGovernance(ctx, "detect", true, map[string]interface{}{
			"detections": len(detections.Detections),
			"types":      types,
		})
	}

	pre := &Preflight{
		Request:    req,
		Prompt:     detections.Text,
		Detections: detections,
		recorder:   recorder,
	}

	checkReq := budget.CheckRequest{
		EstimatedCost: budget.EstimateCost(req.Model, budget.EstimateTokens(detections.Text), req.MaxOutputTokens),
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		RequestID:     req.RequestID,
	}
	pre.EstimatedCost = checkReq.EstimatedCost

	if !e.Ledger.RateAllowed(checkReq) {
		pre.Budget = &budget.CheckResult{Allowed: false, Reason: ErrRateLimited.Error()}
		recorder.LogGovernance(ctx, "budget", false, map[string]interface{}{
			"reason": pre.Budget.Reason,
		})
		return pre, nil
	}

	reservation, check, err := e.Ledger.Reserve(checkReq)
	pre.Budget = check
	pre.Allowed = check.Allowed
	pre.reservation = reservation

	recorder.LogGovernance(ctx, "budget", check.Allowed, map[string]interface{}{
		"estimated_cost": checkReq.EstimatedCost,
		"reason":         check.Reason,
		"warnings":       check.Warnings,
	})
	if err != nil {
		return pre, err
	}
	return pre, nil
}

// Postflight settles the budget reservation at the actual cost and scores
// the response. Call it exactly once, only after a successful provider
// call; on provider failure call Abort instead.
func (e *Engine) Postflight(ctx context.Context, pre *Preflight, resp Response) (*Postflight, error) {
	cost := resp.ActualCost
	if cost <= 0 && (resp.InputTokens > 0 || resp.OutputTokens > 0) {
		cost = budget.EstimateCost(pre.Request.Model, resp.InputTokens, resp.OutputTokens)
	}
	if pre.reservation != nil {
		settle := cost
		if settle <= 0 {
			settle = -1 // settle at the reserved estimate
		}
		if err := pre.reservation.Commit(ctx, settle); err != nil {
			return nil, err
		}
		if settle < 0 {
			cost = pre.EstimatedCost
		}
	}

	evaluation := e.Scorer.Evaluate(confidence.Input{
		Content:         resp.Content,
		ModelConfidence: resp.ModelConfidence,
		Category:        resp.Category,
		Citations:       resp.Citations,
	})

	pre.recorder.LogResponse(ctx, "provider response returned", map[string]interface{}{
		"cost":           cost,
		"content_length": len(resp.Content),
	})
	pre.recorder.LogGovernance(ctx, "confidence", evaluation.Passed, map[string]interface{}{
		"confidence_score":  evaluation.ConfidenceScore,
		"uncertainty_score": evaluation.UncertaintyScore,
		"requires_review":   evaluation.RequiresHumanReview,
		"reasons":           evaluation.Reasons,
	})

	return &Postflight{Evaluation: evaluation, Cost: cost}, nil
}

// Abort cancels the budget reservation after a failed provider call. The
// ledger never records usage for a call that produced nothing.
func (e *Engine) Abort(ctx context.Context, pre *Preflight, cause error) {
	if pre.reservation != nil {
		pre.reservation.Cancel()
		pre.reservation = nil
	}
	pre.recorder.LogError(ctx, cause, map[string]interface{}{
		"model": pre.Request.Model,
	})
}
