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

// StateAnalyzer classifies the latest user message into a psychological
// snapshot using the supervisor-class model. It is read-only with
// respect to conversation state.
type StateAnalyzer struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewStateAnalyzer creates an analyzer bound to the given provider and
// model.
func NewStateAnalyzer(client llm.Client, models config.ModelsConfig, logger *slog.Logger) *StateAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateAnalyzer{
		client: client,
		model:  models.Supervisor,
		logger: logger,
	}
}

// Analyze sends the rolling history plus the latest message to the
// model and parses the structured snapshot. Any transport or parse
// failure surfaces as an error; the caller substitutes the degraded
// default.
func (a *StateAnalyzer) Analyze(ctx context.Context, tc TurnContext) (cbt.Snapshot, error) {
	messages := make([]llm.Message, 0, len(tc.Recent)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompts.AnalyzerSystem()})
	messages = append(messages, tc.Recent...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: tc.Text})

	resp, err := a.client.Chat(ctx, a.model, messages, &llm.Options{JSONMode: true})
	if err != nil {
		return cbt.Snapshot{}, fmt.Errorf("analyze: %w", err)
	}

	snapshot, err := cbt.ParseSnapshot(resp.Content)
	if err != nil {
		return cbt.Snapshot{}, fmt.Errorf("analyze: %w", err)
	}

	a.logger.Debug("state analyzed",
		"turn_id", tc.TurnID,
		"emotion", snapshot.Emotion,
		"intensity", snapshot.Intensity,
		"thought_level", snapshot.ThoughtLevel,
		"safety_risk", snapshot.SafetyRisk,
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
	)
	return snapshot, nil
}
