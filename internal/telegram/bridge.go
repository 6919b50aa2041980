package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anchorbot/anchor/internal/agent"
	"github.com/anchorbot/anchor/internal/config"
	"github.com/anchorbot/anchor/internal/events"
)

// TurnHandler abstracts the turn pipeline for testability. The real
// implementation is *agent.Service.
type TurnHandler interface {
	HandleTurn(ctx context.Context, userID, text string, status agent.StatusFunc) (agent.Outcome, error)
}

// HistoryResetter clears a user's rolling conversation window.
type HistoryResetter interface {
	Reset(userID string) error
}

// MemoryEraser deletes a user's durable memory file. Erasure is only
// ever user-initiated, via the forget command.
type MemoryEraser interface {
	Erase(userID string) error
}

// handleTimeout bounds one inbound message end to end (loop + send).
const handleTimeout = 5 * time.Minute

// rateWindow is the sliding window for per-sender rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client    *Client
	Handler   TurnHandler
	History   HistoryResetter
	Memory    MemoryEraser
	Texts     config.TextsConfig
	RateLimit int // per sender per minute; 0 = unlimited
	Logger    *slog.Logger
	Bus       *events.Bus
}

// Bridge receives Telegram messages, routes them through the grounding
// loop, and sends the decided reply back to the chat. Messages from
// different users are handled sequentially in arrival order; the
// per-call model timeouts keep one slow turn from starving the queue
// indefinitely.
type Bridge struct {
	client    *Client
	handler   TurnHandler
	history   HistoryResetter
	memory    MemoryEraser
	texts     config.TextsConfig
	rateLimit int
	logger    *slog.Logger
	bus       *events.Bus

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a Telegram message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:      cfg.Client,
		handler:     cfg.Handler,
		history:     cfg.History,
		memory:      cfg.Memory,
		texts:       cfg.Texts,
		rateLimit:   cfg.RateLimit,
		logger:      logger,
		bus:         cfg.Bus,
		senderTimes: make(map[string][]time.Time),
	}
}

// Start consumes inbound messages until ctx is cancelled or the client
// channel closes.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("telegram bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bridge shutting down")
			return
		case msg, ok := <-b.client.Messages():
			if !ok {
				b.logger.Info("telegram message channel closed, bridge stopping")
				return
			}
			userID := UserIDString(msg.From.ID)

			if !b.allowSender(userID) {
				b.logger.Warn("telegram message rate-limited", "user_id", userID)
				continue
			}

			b.publish(events.KindMessageReceived, map[string]any{
				"user_id":     userID,
				"chat_id":     msg.Chat.ID,
				"message_len": len(msg.Text),
			})

			if cmd := parseCommand(msg.Text); cmd != "" {
				b.handleCommand(ctx, msg.Chat.ID, userID, cmd)
				continue
			}

			b.handleMessage(ctx, msg)
		}
	}
}

// handleCommand dispatches the bot commands.
func (b *Bridge) handleCommand(ctx context.Context, chatID int64, userID, cmd string) {
	switch cmd {
	case "start":
		if b.history != nil {
			if err := b.history.Reset(userID); err != nil {
				b.logger.Warn("history reset failed", "user_id", userID, "error", err)
			}
		}
		b.send(ctx, chatID, userID, b.texts.Greeting)

	case "forget":
		if b.memory != nil {
			if err := b.memory.Erase(userID); err != nil {
				b.logger.Error("memory erase failed", "user_id", userID, "error", err)
				b.send(ctx, chatID, userID, b.texts.Apology)
				return
			}
		}
		if b.history != nil {
			if err := b.history.Reset(userID); err != nil {
				b.logger.Warn("history reset failed", "user_id", userID, "error", err)
			}
		}
		b.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceMemory,
			Kind:      events.KindMemoryErased,
			Data:      map[string]any{"user_id": userID},
		})
		b.send(ctx, chatID, userID, b.texts.Forgotten)

	default:
		b.logger.Debug("telegram unknown command", "user_id", userID, "command", cmd)
	}
}

// stageTexts are the in-place edits of the status placeholder while a
// turn is in flight.
var stageTexts = map[string]string{
	agent.StageAnalyzing: "Анализирую состояние...",
	agent.StageDrafting:  "Формулирую ответ...",
	agent.StageReviewing: "Проверяю ответ у супервизора...",
}

// handleMessage runs one user message through the grounding loop and
// sends the decided reply. A placeholder message is posted up front and
// edited as the turn progresses, then replaced with the final text. A
// fatal turn still produces a visible reply: the fixed apology text,
// never silence.
func (b *Bridge) handleMessage(ctx context.Context, msg *Message) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	userID := UserIDString(msg.From.ID)
	chatID := msg.Chat.ID

	b.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"message_len", len(msg.Text),
	)

	statusID, err := b.client.SendMessage(ctx, chatID, b.texts.Thinking)
	if err != nil {
		// Without a placeholder the reply is sent as a fresh message.
		b.logger.Debug("status placeholder send failed", "error", err)
		statusID = 0
	}
	if err := b.client.SendChatAction(ctx, chatID, "typing"); err != nil {
		b.logger.Debug("telegram chat action failed", "error", err)
	}

	// Stage markers feed the placeholder edits through a small buffer
	// so the loop never blocks on Telegram. Stale markers are dropped.
	stages := make(chan string, 4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for stage := range stages {
			b.logger.Debug("turn stage", "user_id", userID, "stage", stage)
			text, ok := stageTexts[stage]
			if !ok || statusID == 0 {
				continue
			}
			if err := b.client.EditMessageText(ctx, chatID, statusID, text); err != nil {
				b.logger.Debug("status edit failed", "error", err)
			}
		}
	}()
	status := func(stage string) {
		select {
		case stages <- stage:
		default:
		}
	}

	out, err := b.handler.HandleTurn(ctx, userID, msg.Text, status)
	close(stages)
	wg.Wait()

	if ctx.Err() != nil {
		// Shutdown or timeout mid-turn: nothing sane to send.
		b.logger.Warn("turn abandoned", "user_id", userID, "error", ctx.Err())
		return
	}

	if err != nil {
		b.logger.Error("turn failed, sending apology", "user_id", userID, "error", err)
		b.deliver(ctx, chatID, userID, statusID, b.texts.Apology)
		return
	}

	b.deliver(ctx, chatID, userID, statusID, out.Text)
}

// deliver replaces the status placeholder with the final text, falling
// back to a fresh message when there is no placeholder or the edit
// fails.
func (b *Bridge) deliver(ctx context.Context, chatID int64, userID string, statusID int64, text string) {
	if text == "" {
		return
	}
	if statusID != 0 {
		if err := b.client.EditMessageText(ctx, chatID, statusID, text); err == nil {
			b.publish(events.KindReplySent, map[string]any{
				"user_id":   userID,
				"chat_id":   chatID,
				"reply_len": len(text),
			})
			return
		} else {
			b.logger.Warn("final status edit failed, sending new message",
				"user_id", userID, "error", err)
		}
	}
	b.send(ctx, chatID, userID, text)
}

// send delivers text to the chat and publishes the reply event.
func (b *Bridge) send(ctx context.Context, chatID int64, userID, text string) {
	if text == "" {
		return
	}
	if _, err := b.client.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("telegram reply send failed",
			"user_id", userID,
			"chat_id", chatID,
			"error", err,
		)
		return
	}
	b.publish(events.KindReplySent, map[string]any{
		"user_id":   userID,
		"chat_id":   chatID,
		"reply_len": len(text),
	})
}

// allowSender checks whether the sender is within the per-minute rate
// limit.
func (b *Bridge) allowSender(senderID string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	timestamps := b.senderTimes[senderID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.senderTimes[senderID] = valid
		return false
	}

	b.senderTimes[senderID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale sender entries. Must be called with
// b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, timestamps := range b.senderTimes {
		if len(timestamps) == 0 {
			delete(b.senderTimes, sender)
			continue
		}
		if timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.senderTimes, sender)
		}
	}
}

func (b *Bridge) publish(kind string, data map[string]any) {
	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTelegram,
		Kind:      kind,
		Data:      data,
	})
}

// parseCommand extracts the bare command name from a "/command" or
// "/command@botname" message; empty string for ordinary text.
func parseCommand(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd
}
