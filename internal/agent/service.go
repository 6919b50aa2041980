package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anchorbot/anchor/internal/cbt"
	"github.com/anchorbot/anchor/internal/config"
	"github.com/anchorbot/anchor/internal/events"
	"github.com/anchorbot/anchor/internal/history"
	"github.com/anchorbot/anchor/internal/llm"
	"github.com/anchorbot/anchor/internal/memory"
)

// HistoryStore is the slice of the rolling-window store the service
// needs.
type HistoryStore interface {
	Recent(userID string) ([]history.Turn, error)
	Append(userID, userText, replyText string) (history.Turn, error)
}

// MemoryRecorder persists one completed exchange to long-term memory.
type MemoryRecorder interface {
	Save(entry memory.Entry) error
}

// Service handles complete user turns: load context, analyze, run the
// grounding loop, and record the result. One Service instance is shared
// by all transports; per-turn state lives on the HandleTurn stack.
type Service struct {
	analyzer Analyzer
	loop     *Controller
	history  HistoryStore
	memory   MemoryRecorder
	cfg      config.LoopConfig
	logger   *slog.Logger
	bus      *events.Bus
}

// NewService wires the turn pipeline together. history and memory may
// be nil for transports that do not persist (the ask subcommand).
func NewService(analyzer Analyzer, loop *Controller, hist HistoryStore, mem MemoryRecorder, cfg config.LoopConfig, logger *slog.Logger, bus *events.Bus) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		analyzer: analyzer,
		loop:     loop,
		history:  hist,
		memory:   mem,
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
	}
}

// HandleTurn runs one user message through the full pipeline and
// returns the terminal outcome. It returns an error only when no reply
// could be produced at all; the transport must then show the user a
// fixed acknowledgment instead of silence.
//
// Persistence failures never fail the turn: the reply has already been
// decided and the user sees it regardless.
func (s *Service) HandleTurn(ctx context.Context, userID, text string, status StatusFunc) (Outcome, error) {
	tc := TurnContext{
		TurnID: uuid.NewString(),
		UserID: userID,
		Text:   text,
	}
	s.publish(events.KindTurnStart, tc, nil)
	started := time.Now()

	if s.history != nil {
		turns, err := s.history.Recent(userID)
		if err != nil {
			s.logger.Warn("history unavailable, proceeding without context",
				"turn_id", tc.TurnID, "error", err)
		}
		tc.Recent = turnsToMessages(turns)
	}

	notify(status, StageAnalyzing)
	s.publish(events.KindAnalyzing, tc, nil)
	snapshot := s.analyze(ctx, tc)

	outcome, err := s.loop.Run(ctx, tc, snapshot, status)
	if err != nil {
		s.publish(events.KindTurnFailed, tc, map[string]any{"error": err.Error()})
		s.logger.Error("turn failed",
			"turn_id", tc.TurnID,
			"user_id", userID,
			"error", err,
		)
		return Outcome{}, err
	}

	s.record(tc, outcome)
	s.publish(events.KindTurnComplete, tc, map[string]any{
		"outcome":    outcome.Kind.String(),
		"iterations": outcome.Iterations,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	s.logger.Info("turn complete",
		"turn_id", tc.TurnID,
		"user_id", userID,
		"outcome", outcome.Kind,
		"iterations", outcome.Iterations,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return outcome, nil
}

// analyze runs the state analysis under its timeout and substitutes the
// deterministic safe default when the analyzer fails. The default
// carries the risk flag, so a degraded turn goes down the crisis path
// rather than guessing at the user's state.
func (s *Service) analyze(ctx context.Context, tc TurnContext) cbt.Snapshot {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AnalyzeTimeout())
	defer cancel()

	snapshot, err := s.analyzer.Analyze(actx, tc)
	if err != nil {
		s.logger.Warn("analysis degraded to safe default",
			"turn_id", tc.TurnID, "error", err)
		s.publish(events.KindAnalysisDegraded, tc, map[string]any{"error": err.Error()})
		return cbt.DegradedSnapshot()
	}
	return snapshot
}

// record persists the completed exchange to the rolling window and the
// long-term memory file, best effort.
func (s *Service) record(tc TurnContext, outcome Outcome) {
	if s.history != nil {
		if _, err := s.history.Append(tc.UserID, tc.Text, outcome.Text); err != nil {
			s.logger.Error("history append failed", "turn_id", tc.TurnID, "error", err)
			s.publish(events.KindPersistFailed, tc, map[string]any{"store": "history", "error": err.Error()})
		}
	}
	if s.memory != nil {
		entry := memory.Entry{
			Timestamp:    time.Now().UTC(),
			UserID:       tc.UserID,
			UserMessage:  tc.Text,
			AgentReply:   outcome.Text,
			Emotion:      outcome.Snapshot.Emotion,
			Intensity:    outcome.Snapshot.Intensity,
			ThoughtLevel: string(outcome.Snapshot.ThoughtLevel),
			Distortion:   string(outcome.Snapshot.Distortion),
			Technique:    outcome.Technique,
		}
		if err := s.memory.Save(entry); err != nil {
			s.logger.Error("memory save failed", "turn_id", tc.TurnID, "error", err)
			s.publish(events.KindPersistFailed, tc, map[string]any{"store": "memory", "error": err.Error()})
		}
	}
}

func (s *Service) publish(kind string, tc TurnContext, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["turn_id"] = tc.TurnID
	data["user_id"] = tc.UserID
	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      kind,
		Data:      data,
	})
}

// turnsToMessages flattens completed turns into the chat-message form
// the model roles consume, oldest first.
func turnsToMessages(turns []history.Turn) []llm.Message {
	if len(turns) == 0 {
		return nil
	}
	msgs := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.UserText})
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.ReplyText})
	}
	return msgs
}
