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

// SupervisorCritic is the validating role: it judges one draft at a
// time against the protocol rubric. It holds no state between calls.
type SupervisorCritic struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewSupervisorCritic creates a critic bound to the supervisor model.
func NewSupervisorCritic(client llm.Client, models config.ModelsConfig, logger *slog.Logger) *SupervisorCritic {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupervisorCritic{
		client: client,
		model:  models.Supervisor,
		logger: logger,
	}
}

// Critique asks the supervisor model for an explicit judgment on every
// rubric category. A transport or parse failure returns an error, which
// the loop converts into a rejection.
func (s *SupervisorCritic) Critique(ctx context.Context, tc TurnContext, draft cbt.Draft, snapshot cbt.Snapshot) (cbt.Verdict, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.SupervisorSystem()},
		{Role: llm.RoleSystem, Content: prompts.TherapistSnapshotNote(
			snapshot.Emotion, snapshot.Intensity,
			string(snapshot.ThoughtLevel), string(snapshot.Distortion),
		)},
		{Role: llm.RoleUser, Content: prompts.SupervisorReview(tc.Text, draft.Content)},
	}

	resp, err := s.client.Chat(ctx, s.model, messages, &llm.Options{JSONMode: true})
	if err != nil {
		return cbt.Verdict{}, fmt.Errorf("critique: %w", err)
	}

	verdict, err := cbt.ParseVerdict(resp.Content)
	if err != nil {
		return cbt.Verdict{}, fmt.Errorf("critique: %w", err)
	}

	s.logger.Debug("draft critiqued",
		"turn_id", tc.TurnID,
		"approved", verdict.Approved,
		"violations", verdict.Violations,
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
	)
	return verdict, nil
}
