package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anchorbot/anchor/internal/cbt"
	"github.com/anchorbot/anchor/internal/config"
	"github.com/anchorbot/anchor/internal/events"
)

// candidate is one draft attempt inside the loop. Candidates are
// ephemeral; only the winning one's text leaves the loop.
type candidate struct {
	draft cbt.Draft
	// attempt is the 0-based iteration index.
	attempt int
}

// Controller runs the bounded draft/critique cycle for a single turn.
// A controller is stateless across turns: every Run starts fresh, and
// the retry counter and draft history live only on the Run stack.
// Drafting and critique are strictly sequential because the next draft
// needs the previous verdict's feedback as input.
type Controller struct {
	drafter Drafter
	critic  Critic
	cfg     config.LoopConfig
	safety  config.SafetyConfig
	logger  *slog.Logger
	bus     *events.Bus
}

// NewController creates a grounding-loop controller.
func NewController(drafter Drafter, critic Critic, cfg config.LoopConfig, safety config.SafetyConfig, logger *slog.Logger, bus *events.Bus) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		drafter: drafter,
		critic:  critic,
		cfg:     cfg,
		safety:  safety,
		logger:  logger,
		bus:     bus,
	}
}

// maxAttempts returns the configured retry budget with a structural
// floor of one attempt.
func (c *Controller) maxAttempts() int {
	if c.cfg.MaxAttempts <= 0 {
		return 3
	}
	return c.cfg.MaxAttempts
}

// Run executes the loop for one analyzed turn and returns its outcome.
//
// A snapshot with the risk flag set bypasses drafting entirely: the
// fixed safety payload is returned before any model is consulted, so a
// crisis reply can never be corrupted by a model failure. Otherwise the
// loop drafts, critiques, and retries with the supervisor's feedback
// until approval or budget exhaustion.
//
// Run returns an error only for a turn-fatal condition (first draft
// unavailable); every other failure degrades to an outcome.
func (c *Controller) Run(ctx context.Context, tc TurnContext, snapshot cbt.Snapshot, status StatusFunc) (Outcome, error) {
	if cbt.IsCrisis(snapshot) {
		c.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindCrisis,
			Data: map[string]any{
				"turn_id":         tc.TurnID,
				"payload_version": c.safety.Version,
			},
		})
		c.logger.Warn("crisis short-circuit",
			"turn_id", tc.TurnID,
			"degraded_analysis", snapshot.Degraded,
		)
		return Outcome{
			Kind:     OutcomeCrisis,
			Text:     c.safety.CrisisText,
			Snapshot: snapshot,
		}, nil
	}

	max := c.maxAttempts()
	var feedback []string
	var last *candidate

	for attempt := 0; attempt < max; attempt++ {
		notify(status, StageDrafting)
		c.publish(events.KindDrafting, tc.TurnID, map[string]any{"attempt": attempt})

		draft, err := c.draftOnce(ctx, tc, snapshot, feedback)
		if err != nil {
			if last == nil {
				// No candidate exists yet, nothing to fall back on.
				return Outcome{}, fmt.Errorf("attempt %d: %v: %w", attempt, err, ErrDraftUnavailable)
			}
			c.logger.Warn("draft failed on retry, degrading to last candidate",
				"turn_id", tc.TurnID,
				"attempt", attempt,
				"error", err,
			)
			return c.fallback(tc, snapshot, last), nil
		}
		last = &candidate{draft: draft, attempt: attempt}

		notify(status, StageReviewing)
		c.publish(events.KindCritiquing, tc.TurnID, map[string]any{"attempt": attempt})

		verdict, err := c.critiqueOnce(ctx, tc, draft, snapshot)
		if err != nil {
			// Unreachable critique never approves: substitute an
			// implicit rejection with generic feedback.
			c.logger.Warn("critique unavailable, treating as rejection",
				"turn_id", tc.TurnID,
				"attempt", attempt,
				"error", err,
			)
			verdict = cbt.ImplicitRejection()
			c.publish(events.KindRejected, tc.TurnID, map[string]any{
				"attempt":  attempt,
				"implicit": true,
			})
		} else if !verdict.Approved {
			c.publish(events.KindRejected, tc.TurnID, map[string]any{
				"attempt":      attempt,
				"implicit":     false,
				"feedback_len": len(verdict.Feedback),
			})
			c.logger.Info("draft rejected",
				"turn_id", tc.TurnID,
				"attempt", attempt,
				"violations", verdict.Violations,
			)
		}

		if verdict.Approved {
			return Outcome{
				Kind:       OutcomeApproved,
				Text:       draft.Content,
				Technique:  draft.Technique,
				Iterations: attempt,
				Snapshot:   snapshot,
			}, nil
		}

		// Carry the feedback forward verbatim into the next draft.
		feedback = append(feedback, verdict.Feedback)
	}

	return c.fallback(tc, snapshot, last), nil
}

// draftOnce runs a single drafting call under its own timeout.
func (c *Controller) draftOnce(ctx context.Context, tc TurnContext, snapshot cbt.Snapshot, feedback []string) (cbt.Draft, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DraftTimeout())
	defer cancel()
	return c.drafter.Draft(dctx, tc, snapshot, feedback)
}

// critiqueOnce runs a single critique call under its own timeout.
func (c *Controller) critiqueOnce(ctx context.Context, tc TurnContext, draft cbt.Draft, snapshot cbt.Snapshot) (cbt.Verdict, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CritiqueTimeout())
	defer cancel()
	return c.critic.Critique(cctx, tc, draft, snapshot)
}

// fallback builds the availability-over-perfection outcome: the last
// drafted candidate goes out even though it was never approved.
func (c *Controller) fallback(tc TurnContext, snapshot cbt.Snapshot, last *candidate) Outcome {
	c.logger.Warn("retry budget exhausted, sending best-effort reply",
		"turn_id", tc.TurnID,
		"attempt", last.attempt,
	)
	return Outcome{
		Kind:       OutcomeFallback,
		Text:       last.draft.Content,
		Technique:  last.draft.Technique,
		Iterations: last.attempt,
		Snapshot:   snapshot,
	}
}

// notify delivers an advisory stage marker without blocking the loop.
func notify(status StatusFunc, stage string) {
	if status != nil {
		status(stage)
	}
}

func (c *Controller) publish(kind, turnID string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["turn_id"] = turnID
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      kind,
		Data:      data,
	})
}
