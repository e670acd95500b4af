// Package ki implements the optional two-stage KI Orchestrator: a local
// evaluator followed by a reflection evaluator that may override the first
// stage's confidence. Grounded on
// fiona/ki/{orchestrator,local_evaluator,reflection_evaluator}.py for stage
// order and merge semantics; HTTP transport uses go-resty/resty, the
// pattern used for LLM calls elsewhere in the retrieved pack, in place of
// pulling in a heavier pipeline framework for a two-call sequence.
package ki

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

const (
	strongThreshold = 80
	weakThreshold   = 60
)

type stageResponse struct {
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`
	Corrected  bool   `json:"corrected"`
}

// Orchestrator drives the local -> reflection pipeline.
type Orchestrator struct {
	log                *zap.Logger
	client             *resty.Client
	localEndpoint      string
	localAPIKey        string
	reflectionEndpoint string
	reflectionAPIKey   string
}

func NewOrchestrator(log *zap.Logger, localEndpoint, localAPIKey, reflectionEndpoint, reflectionAPIKey string) *Orchestrator {
	return &Orchestrator{
		log:                log,
		client:             resty.New(),
		localEndpoint:      localEndpoint,
		localAPIKey:        localAPIKey,
		reflectionEndpoint: reflectionEndpoint,
		reflectionAPIKey:   reflectionAPIKey,
	}
}

// Evaluate runs both stages and merges them into a KiEvaluationResult. It
// never returns an error: any failure in either stage is captured as a
// diagnostic Failed/FailureReason result instead, per the contract that the
// KI orchestrator must never interrupt the worker loop.
func (o *Orchestrator) Evaluate(ctx context.Context, in PromptInputs) types.KiEvaluationResult {
	local, err := o.callStage(ctx, o.localEndpoint, o.localAPIKey, BuildLocalPrompt(in))
	if err != nil {
		o.log.Warn("ki local stage failed", zap.Error(err))
		return types.KiEvaluationResult{Failed: true, FailureReason: fmt.Sprintf("local stage: %v", err), Strength: types.SignalNoTrade}
	}

	reflection, err := o.callStage(ctx, o.reflectionEndpoint, o.reflectionAPIKey, BuildReflectionPrompt(in, local.Confidence, local.Rationale))
	if err != nil {
		o.log.Warn("ki reflection stage failed", zap.Error(err))
		return types.KiEvaluationResult{Failed: true, FailureReason: fmt.Sprintf("reflection stage: %v", err), Strength: types.SignalNoTrade}
	}

	confidence := local.Confidence
	corrected := false
	if reflection.Corrected {
		confidence = reflection.Confidence
		corrected = true
	}

	return types.KiEvaluationResult{
		Confidence:      decimal.NewFromInt(int64(confidence)),
		Strength:        strengthFor(confidence),
		LocalRationale:  local.Rationale,
		ReflectionNotes: reflection.Rationale,
		Corrected:       corrected,
	}
}

func strengthFor(confidence int) types.SignalStrength {
	switch {
	case confidence >= strongThreshold:
		return types.SignalStrong
	case confidence >= weakThreshold:
		return types.SignalWeak
	default:
		return types.SignalNoTrade
	}
}

func (o *Orchestrator) callStage(ctx context.Context, endpoint, apiKey, prompt string) (*stageResponse, error) {
	var out stageResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetBody(map[string]string{"prompt": prompt}).
		SetResult(&out).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("ki: request to %s: %w", endpoint, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ki: %s returned %d", endpoint, resp.StatusCode())
	}
	return &out, nil
}
