package ki

import (
	"fmt"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// PromptInputs is the pure, transport-independent input to both LLM stages,
// per SPEC_FULL.md §4.6's design note — prompt construction is unit
// testable without standing up an HTTP server.
type PromptInputs struct {
	Setup       types.SetupCandidate
	RangeStatus types.RangeStatus
	Phase       types.SessionPhase
}

// BuildLocalPrompt renders the first-stage evaluator prompt, grounded on
// fiona/ki/local_evaluator.py's input shape (setup + live range transparency
// data, no prior LLM output to react to).
func BuildLocalPrompt(in PromptInputs) string {
	return fmt.Sprintf(
		"Evaluate this trade setup.\nAsset: %s\nPhase: %s\nKind: %s\nSide: %s\nEntry: %s\nStop: %s\nTarget: %s\nRangeStatus: %s\nRespond with a confidence score 0-100 and a short rationale.",
		in.Setup.Asset, in.Phase, in.Setup.Kind, in.Setup.Side,
		in.Setup.EntryPrice.String(), in.Setup.StopPrice.String(), in.Setup.TargetPrice.String(),
		in.RangeStatus.Code,
	)
}

// BuildReflectionPrompt renders the second-stage evaluator prompt, which
// reviews the local stage's own output and may correct its confidence or
// rationale, grounded on fiona/ki/reflection_evaluator.py.
func BuildReflectionPrompt(in PromptInputs, localConfidence int, localRationale string) string {
	return fmt.Sprintf(
		"Review this prior evaluation for correctness.\nAsset: %s\nLocal confidence: %d\nLocal rationale: %s\nIf you disagree, provide a corrected confidence score 0-100 and say why.",
		in.Setup.Asset, localConfidence, localRationale,
	)
}
