// ABOUTME: Conversation orchestrator: one user message through redaction, scope
// ABOUTME: gating, streamed generation with tool rounds, and finalization

package kernel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/2389/penny-gateway/internal/config"
	"github.com/2389/penny-gateway/internal/llm"
	"github.com/2389/penny-gateway/internal/redact"
	"github.com/2389/penny-gateway/internal/scope"
	"github.com/2389/penny-gateway/internal/store"
	"github.com/2389/penny-gateway/internal/tools"
)

// interruptionMarker is appended to a preserved partial answer so the
// conversation history stays usable after a failed or crashed turn.
const interruptionMarker = "\n\n[Error: Response interrupted]"

// historyFetchLimit caps how many stored messages one turn considers before
// the character budget trims further.
const historyFetchLimit = 25

// ErrTooManyToolRounds aborts a turn when the model keeps requesting tools
// without converging on an answer.
var ErrTooManyToolRounds = errors.New("exceeded maximum tool rounds")

// Completer is the model-provider collaborator. One streaming call per
// generation round; must honor mid-stream cancellation.
type Completer interface {
	Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error)
	Model() string
}

// Kernel runs conversation turns.
type Kernel struct {
	store     store.Store
	registry  *tools.Registry
	completer Completer
	cfg       config.KernelConfig
	logger    *slog.Logger
}

func New(s store.Store, reg *tools.Registry, c Completer, cfg config.KernelConfig) *Kernel {
	if cfg.HistoryCharBudget <= 0 {
		cfg.HistoryCharBudget = config.DefaultHistoryCharBudget
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = config.DefaultCheckpointInterval
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = config.DefaultMaxToolRounds
	}
	return &Kernel{
		store:     s,
		registry:  reg,
		completer: c,
		cfg:       cfg,
		logger:    slog.Default().With("component", "kernel"),
	}
}

// TurnRequest is one inbound user message. Content is raw, unredacted text;
// redaction happens inside the turn.
type TurnRequest struct {
	UserID         string
	ConversationID string
	SessionID      string
	Content        string
}

// turn holds the mutable state of one in-flight turn. Owned exclusively by
// the goroutine running RunTurn.
type turn struct {
	req            TurnRequest
	conversationID string
	accumulated    strings.Builder
	lastCheckpoint int
	emit           EmitFunc
	started        time.Time
}

// RunTurn executes one conversation turn, pushing events through emit. The
// caller always receives a terminal event (done or error) before RunTurn
// returns, except when emit itself fails. Cancelling ctx aborts the turn
// through the failure path with the partial answer preserved.
func (k *Kernel) RunTurn(ctx context.Context, req TurnRequest, emit EmitFunc) error {
	t := &turn{req: req, conversationID: req.ConversationID, emit: emit, started: time.Now()}

	if err := k.run(ctx, t); err != nil {
		k.fail(t, err)
		return err
	}
	return nil
}

func (k *Kernel) run(ctx context.Context, t *turn) error {
	// GATING
	redacted, tokens, err := redact.Redact(t.req.Content)
	if err != nil {
		return fmt.Errorf("redacting input: %w", err)
	}
	decision := scope.Classify(redacted)

	convID, err := k.store.EnsureConversation(ctx, t.req.UserID, t.req.ConversationID)
	if err != nil {
		return fmt.Errorf("ensuring conversation: %w", err)
	}
	t.conversationID = convID

	// A leftover checkpoint means a previous turn died mid-stream. Fold its
	// partial answer into the history before this turn's messages.
	k.recoverCheckpoint(ctx, convID)

	userMsgID, err := k.store.SaveMessage(ctx, &store.Message{
		ConversationID:  convID,
		Role:            store.RoleUser,
		Content:         t.req.Content,
		RedactedContent: redacted,
		Metadata:        map[string]any{"redaction_tokens": len(tokens)},
	})
	if err != nil {
		return fmt.Errorf("saving user message: %w", err)
	}

	if decision.Level == scope.Unsupported {
		return k.reject(ctx, t, decision)
	}

	// HISTORY_LOAD
	history := k.loadHistory(ctx, convID, userMsgID)
	messages := append(history, llm.Message{Role: store.RoleUser, Content: redacted})
	defs := toolDefinitions(k.registry)

	// GENERATING / tool rounds
	var pending []llm.ToolCall
	var current strings.Builder

	for round := 0; ; round++ {
		if round >= k.cfg.MaxToolRounds {
			return fmt.Errorf("%w (%d)", ErrTooManyToolRounds, k.cfg.MaxToolRounds)
		}
		pending = pending[:0]
		current.Reset()

		events, err := k.completer.Stream(ctx, llm.Request{
			System:         systemPrompt,
			Messages:       messages,
			Tools:          defs,
			UserID:         t.req.UserID,
			ConversationID: convID,
		})
		if err != nil {
			return err
		}

		for ev := range events {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch ev.Type {
			case llm.EventText:
				current.WriteString(ev.Text)
				t.accumulated.WriteString(ev.Text)
				if err := t.emit(Event{Type: EventText, Content: ev.Text}); err != nil {
					return err
				}
				k.maybeCheckpoint(ctx, t)
			case llm.EventToolCall:
				pending = append(pending, *ev.ToolCall)
				ref := ToolRef{ID: ev.ToolCall.ID, Name: ev.ToolCall.Function.Name}
				if err := t.emit(Event{Type: EventToolCall, Tool: ref}); err != nil {
					return err
				}
			case llm.EventError:
				return ev.Err
			case llm.EventDone:
			}
		}

		if len(pending) == 0 {
			break
		}

		results, err := k.executeBatch(ctx, t, pending)
		if err != nil {
			return err
		}

		messages = append(messages, llm.Message{
			Role:      store.RoleAssistant,
			Content:   current.String(),
			ToolCalls: slices.Clone(pending),
		})
		messages = append(messages, results...)
	}

	// FINALIZING
	elapsed := time.Since(t.started).Milliseconds()
	msgID, err := k.store.SaveMessage(ctx, &store.Message{
		ConversationID: convID,
		Role:           store.RoleAssistant,
		Content:        t.accumulated.String(),
		Metadata: map[string]any{
			"model":          k.completer.Model(),
			"processingTime": elapsed,
		},
	})
	if err != nil {
		return fmt.Errorf("saving assistant message: %w", err)
	}
	if err := k.store.ClearCheckpoint(ctx, convID); err != nil {
		k.logger.Debug("failed to clear checkpoint", "conversation_id", convID, "error", err)
	}

	return t.emit(Event{Type: EventDone, MessageID: msgID, ProcessingTime: elapsed})
}

// reject handles an unsupported topic: canned policy reply, rejected audit
// entry, successful termination. Never reaches the model or any tool.
func (k *Kernel) reject(ctx context.Context, t *turn, decision scope.Decision) error {
	policy := scope.PolicyResponse(decision.Topic)

	if err := t.emit(Event{Type: EventText, Content: policy}); err != nil {
		return err
	}

	msgID, err := k.store.SaveMessage(ctx, &store.Message{
		ConversationID: t.conversationID,
		Role:           store.RoleAssistant,
		Content:        policy,
	})
	if err != nil {
		return fmt.Errorf("saving policy response: %w", err)
	}

	elapsed := time.Since(t.started).Milliseconds()
	if err := k.store.LogAudit(ctx, &store.AuditEntry{
		UserID:     t.req.UserID,
		ToolID:     "scope_gate",
		Outcome:    store.OutcomeRejected,
		DurationMs: elapsed,
		Metadata: map[string]any{
			"topic":      decision.Topic,
			"confidence": decision.Confidence,
		},
	}); err != nil {
		return fmt.Errorf("logging gate rejection: %w", err)
	}

	return t.emit(Event{Type: EventDone, MessageID: msgID, ProcessingTime: elapsed})
}

// executeBatch resolves pending tool calls one at a time, in model order.
// Each call yields exactly one tool-result message and one audit entry; tool
// failures are isolated and never abort the turn.
func (k *Kernel) executeBatch(ctx context.Context, t *turn, calls []llm.ToolCall) ([]llm.Message, error) {
	tc := &tools.Context{
		UserID:         t.req.UserID,
		ConversationID: t.conversationID,
		SessionID:      t.req.SessionID,
	}

	results := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		req := tools.Request{
			CallID:    call.ID,
			ToolID:    call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		}

		if k.registry.WouldExecute(req) {
			if err := t.emit(Event{Type: EventToolExecuting, Tool: req.ToolID}); err != nil {
				return nil, err
			}
		}

		out := k.registry.Dispatch(ctx, tc, req)

		if out.Status == tools.StatusConfirmationRequired {
			ev := Event{Type: EventConfirmationRequired, Tool: out.ToolID, Summary: out.ConfirmationSummary()}
			if err := t.emit(ev); err != nil {
				return nil, err
			}
		}

		if err := k.recordToolAttempt(ctx, t, req, out); err != nil {
			return nil, err
		}

		results = append(results, llm.Message{
			Role:       store.RoleTool,
			Content:    string(out.Payload()),
			ToolCallID: call.ID,
		})
	}
	return results, nil
}

func (k *Kernel) recordToolAttempt(ctx context.Context, t *turn, req tools.Request, out tools.Outcome) error {
	outcome := store.OutcomeError
	switch out.Status {
	case tools.StatusSuccess:
		outcome = store.OutcomeSuccess
	case tools.StatusConfirmationRequired:
		outcome = store.OutcomeSkipped
	}

	if err := k.store.SaveToolCall(ctx, &store.ToolCall{
		ConversationID: t.conversationID,
		CallID:         req.CallID,
		ToolID:         req.ToolID,
		Arguments:      string(req.Arguments),
		Outcome:        outcome,
		Error:          out.Error,
		DurationMs:     out.Duration.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("saving tool call: %w", err)
	}

	if err := k.store.LogAudit(ctx, &store.AuditEntry{
		UserID:     t.req.UserID,
		ToolID:     req.ToolID,
		Outcome:    outcome,
		DurationMs: out.Duration.Milliseconds(),
		ArgsHash:   hashArgs(req.Arguments),
		Error:      out.Error,
		Metadata:   map[string]any{"call_id": req.CallID, "status": out.Status},
	}); err != nil {
		return fmt.Errorf("logging tool attempt: %w", err)
	}
	return nil
}

// fail drives the FAILED state: preserve any partial answer with the
// interruption marker, emit one error event with the partial flag, and append
// one audit entry. Persistence uses a fresh context because the turn's own
// context may already be cancelled.
func (k *Kernel) fail(t *turn, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	partial := t.accumulated.Len() > 0
	if partial && t.conversationID != "" {
		if _, err := k.store.SaveMessage(ctx, &store.Message{
			ConversationID: t.conversationID,
			Role:           store.RoleAssistant,
			Content:        t.accumulated.String() + interruptionMarker,
			Metadata:       map[string]any{"partial": true, "error": cause.Error()},
		}); err != nil {
			k.logger.Error("failed to preserve partial answer", "conversation_id", t.conversationID, "error", err)
		} else if err := k.store.ClearCheckpoint(ctx, t.conversationID); err != nil {
			k.logger.Debug("failed to clear checkpoint", "conversation_id", t.conversationID, "error", err)
		}
	}

	outcome := store.OutcomeError
	if errors.Is(cause, context.Canceled) {
		outcome = store.OutcomeCancelled
	}
	if err := k.store.LogAudit(ctx, &store.AuditEntry{
		UserID:     t.req.UserID,
		ToolID:     "process_message",
		Outcome:    outcome,
		DurationMs: time.Since(t.started).Milliseconds(),
		Error:      cause.Error(),
	}); err != nil {
		k.logger.Error("failed to log turn failure", "error", err)
	}

	if err := t.emit(Event{Type: EventError, Error: cause.Error(), Partial: &partial}); err != nil {
		k.logger.Debug("failed to emit error event", "error", err)
	}
}

// maybeCheckpoint persists the running answer once per configured interval of
// accumulated characters. Best effort: a failed write costs at most one
// interval of recoverable text.
func (k *Kernel) maybeCheckpoint(ctx context.Context, t *turn) {
	if t.accumulated.Len()-t.lastCheckpoint < k.cfg.CheckpointInterval {
		return
	}
	t.lastCheckpoint = t.accumulated.Len()
	if err := k.store.SaveCheckpoint(ctx, t.conversationID, t.accumulated.String()); err != nil {
		k.logger.Debug("checkpoint save failed", "conversation_id", t.conversationID, "error", err)
	}
}

func (k *Kernel) recoverCheckpoint(ctx context.Context, convID string) {
	text, err := k.store.GetCheckpoint(ctx, convID)
	if err != nil || text == "" {
		return
	}
	if _, err := k.store.SaveMessage(ctx, &store.Message{
		ConversationID: convID,
		Role:           store.RoleAssistant,
		Content:        text + interruptionMarker,
		Metadata:       map[string]any{"partial": true, "recovered": true},
	}); err != nil {
		k.logger.Warn("failed to recover checkpoint", "conversation_id", convID, "error", err)
		return
	}
	if err := k.store.ClearCheckpoint(ctx, convID); err != nil {
		k.logger.Debug("failed to clear recovered checkpoint", "conversation_id", convID, "error", err)
	}
}

// loadHistory assembles the prompt history: recent messages in chronological
// order, greedily included newest-first until the character budget is
// exhausted, so truncation drops the oldest messages. The just-saved user
// message is excluded; its redacted form is appended by the caller. A store
// read failure degrades to an empty history rather than aborting the turn.
func (k *Kernel) loadHistory(ctx context.Context, convID, excludeID string) []llm.Message {
	msgs, err := k.store.GetRecentMessages(ctx, convID, historyFetchLimit)
	if err != nil {
		k.logger.Warn("failed to load history", "conversation_id", convID, "error", err)
		return nil
	}

	budget := k.cfg.HistoryCharBudget
	total := 0
	var history []llm.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.ID == excludeID {
			continue
		}
		content := m.RedactedContent
		if content == "" {
			content = m.Content
		}
		if total+len(content) > budget {
			break
		}
		history = append(history, llm.Message{
			Role:       m.Role,
			Content:    content,
			ToolCallID: m.ToolCallID,
		})
		total += len(content)
	}
	slices.Reverse(history)
	return history
}

func toolDefinitions(reg *tools.Registry) []llm.ToolDefinition {
	defs := reg.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDefinition{
				Name:        d.ID,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

func hashArgs(args json.RawMessage) string {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	sum := sha256.Sum256(args)
	return hex.EncodeToString(sum[:])
}
