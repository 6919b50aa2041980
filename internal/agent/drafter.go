package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anchorbot/anchor/internal/cbt"
	"github.com/anchorbot/anchor/internal/config"
	"github.com/anchorbot/anchor/internal/llm"
	"github.com/anchorbot/anchor/internal/prompts"
)

// TherapistDrafter is the generative role. It never talks to the user
// directly; every draft it produces goes through the supervisor first.
type TherapistDrafter struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewTherapistDrafter creates a drafter bound to the therapist model.
func NewTherapistDrafter(client llm.Client, models config.ModelsConfig, logger *slog.Logger) *TherapistDrafter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TherapistDrafter{
		client: client,
		model:  models.Therapist,
		logger: logger,
	}
}

// Draft produces one candidate reply. The snapshot steers the draft
// toward the identified emotion and thought level, and every prior
// feedback string is included verbatim so a retry cannot repeat a
// mistake the supervisor already named.
func (d *TherapistDrafter) Draft(ctx context.Context, tc TurnContext, snapshot cbt.Snapshot, priorFeedback []string) (cbt.Draft, error) {
	messages := make([]llm.Message, 0, len(tc.Recent)+4)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompts.TherapistSystem()})
	messages = append(messages, llm.Message{
		Role: llm.RoleSystem,
		Content: prompts.TherapistSnapshotNote(
			snapshot.Emotion, snapshot.Intensity,
			string(snapshot.ThoughtLevel), string(snapshot.Distortion),
		),
	})
	if len(priorFeedback) > 0 {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: prompts.TherapistFeedbackNote(priorFeedback),
		})
	}
	messages = append(messages, tc.Recent...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: tc.Text})

	resp, err := d.client.Chat(ctx, d.model, messages, &llm.Options{JSONMode: true})
	if err != nil {
		return cbt.Draft{}, fmt.Errorf("draft: %w", err)
	}

	draft, err := cbt.ParseDraft(resp.Content)
	if err != nil {
		return cbt.Draft{}, fmt.Errorf("draft: %w", err)
	}

	d.logger.Debug("draft produced",
		"turn_id", tc.TurnID,
		"technique", draft.Technique,
		"prior_feedback", len(priorFeedback),
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
	)
	return draft, nil
}
