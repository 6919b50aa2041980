// Package agent implements the grounding loop: analyze the user's
// state, draft a candidate reply, submit it for supervision, and
// iterate until the reply is approved, the retry budget runs out, or a
// crisis condition short-circuits everything with the fixed safety
// response.
package agent

import (
	"context"

	"github.com/anchorbot/anchor/internal/cbt"
	"github.com/anchorbot/anchor/internal/llm"
)

// TurnContext carries one user turn through the loop: who is speaking,
// what they said, and the bounded rolling history (oldest first).
type TurnContext struct {
	TurnID string
	UserID string
	Text   string
	Recent []llm.Message
}

// Analyzer classifies the user's latest message into a psychological
// snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, tc TurnContext) (cbt.Snapshot, error)
}

// Drafter is the therapist role: it produces a candidate reply from the
// conversation context, the snapshot, and the supervisor feedback
// accumulated from prior rejected attempts (empty on the first
// attempt). Implementations must include every feedback string verbatim
// in their generation input.
type Drafter interface {
	Draft(ctx context.Context, tc TurnContext, snapshot cbt.Snapshot, priorFeedback []string) (cbt.Draft, error)
}

// Critic is the supervisor role: it judges one draft against the
// protocol rubric. A returned error means the judgment is unavailable,
// which the loop treats as rejection, never as approval.
type Critic interface {
	Critique(ctx context.Context, tc TurnContext, draft cbt.Draft, snapshot cbt.Snapshot) (cbt.Verdict, error)
}

// StatusFunc receives advisory stage markers ("analyzing", "drafting",
// "reviewing") for UI feedback. Implementations must not block; the
// loop never awaits delivery and ignores failures.
type StatusFunc func(stage string)

// Stage marker values passed to StatusFunc.
const (
	StageAnalyzing = "analyzing"
	StageDrafting  = "drafting"
	StageReviewing = "reviewing"
)
