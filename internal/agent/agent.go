// Package agent implements the per-turn state machine that drives a thread:
// accepting a user message, opening a provider stream, translating stream
// events into persisted thread events, executing tool calls, and looping
// until the turn settles into idle, stopped, or error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lacehq/lace/internal/backoff"
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/threadstore"
	"github.com/lacehq/lace/internal/tokenbudget"
	"github.com/lacehq/lace/internal/tools"
	"github.com/lacehq/lace/internal/tracing"
	"github.com/lacehq/lace/pkg/lace"
)

// Config configures an Agent's model binding and retry behavior.
type Config struct {
	Model      string
	System     string
	MaxTokens  int
	MaxRetries int // turn-level provider retries on Finish(error); default 3
	Retry      backoff.Policy
}

// DefaultConfig returns spec §4.6's default retry configuration: 3 attempts,
// exponential backoff with jitter from a 500ms base.
func DefaultConfig() Config {
	return Config{
		MaxTokens:  4096,
		MaxRetries: 3,
		Retry:      backoff.FromConfig(500),
	}
}

// Agent drives a single thread's per-turn state machine. It is owned by
// exactly one caller at a time: SendMessage rejects concurrent calls with a
// Busy error rather than queuing them, per spec §5 ("each agent processes
// one turn at a time").
type Agent struct {
	mu    sync.Mutex
	state lace.AgentState

	threadId lace.ThreadId
	store    threadstore.Store
	prov     provider.Provider
	executor *tools.Executor
	budget   *tokenbudget.Budget
	registry *tools.Registry
	compact  Compactor
	sub      Subscriber

	cfg Config
}

// New constructs an Agent for threadId. registry, budget, compact, and sub
// may be nil to disable tool calls, budget tracking, compaction, and event
// notification respectively.
func New(threadId lace.ThreadId, store threadstore.Store, prov provider.Provider, executor *tools.Executor, registry *tools.Registry, budget *tokenbudget.Budget, compact Compactor, sub Subscriber, cfg Config) *Agent {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if sub == nil {
		sub = NopSubscriber{}
	}
	return &Agent{
		threadId: threadId,
		store:    store,
		prov:     prov,
		executor: executor,
		registry: registry,
		budget:   budget,
		compact:  compact,
		sub:      sub,
		cfg:      cfg,
		state:    lace.StateIdle,
	}
}

// State returns the agent's current state.
func (a *Agent) State() lace.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// BudgetStatus reports this agent's token budget snapshot. ok is false if
// the agent was constructed without a Budget.
func (a *Agent) BudgetStatus() (status tokenbudget.Status, ok bool) {
	if a.budget == nil {
		return tokenbudget.Status{}, false
	}
	return a.budget.Status(), true
}

// Model returns the model name this agent's turns are requested against,
// used to price a budget snapshot against that model's per-token rate.
func (a *Agent) Model() string {
	return a.cfg.Model
}

func (a *Agent) setState(s lace.AgentState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Stop moves a busy agent to the stopping state for callers that only
// observe State(). It does not interrupt the turn itself: a turn is abandoned
// at its next cancellation point only when the context passed to SendMessage
// is cancelled.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.state != lace.StateIdle && a.state != lace.StateStopped {
		a.state = lace.StateStopping
	}
	a.mu.Unlock()
}

// SendMessage runs spec §4.6's per-turn algorithm to completion: it appends
// the user message, then loops opening provider streams and executing tool
// calls until the turn reaches end_turn, a terminal error, or cancellation.
func (a *Agent) SendMessage(ctx context.Context, text string) error {
	if a.prov == nil {
		return ErrNoProvider
	}

	ctx, span := tracing.Start(ctx, "lace/agent", "agent.turn",
		attribute.String("lace.thread_id", a.threadId.String()),
		attribute.String("lace.model", a.cfg.Model))
	defer span.End()

	a.mu.Lock()
	if a.state != lace.StateIdle {
		a.mu.Unlock()
		return lace.New(lace.KindBusy, "agent is not idle").WithThread(a.threadId)
	}
	a.state = lace.StateThinking
	a.mu.Unlock()

	if err := a.appendEvent(ctx, lace.Event{Type: lace.EventUserMessage, DataUserMessage: &lace.UserMessageData{Text: text}}); err != nil {
		a.setState(lace.StateError)
		return err
	}

	err := a.loop(ctx)
	if err != nil {
		if lace.IsKind(err, lace.KindUserStopped) {
			a.setState(lace.StateIdle)
		} else {
			a.setState(lace.StateError)
		}
		tracing.RecordError(span, err)
		return err
	}
	a.setState(lace.StateIdle)
	return nil
}

// loop implements steps 3-9: open a stream, process it to either end_turn
// (return) or tool_use (execute calls, then re-enter without user input).
func (a *Agent) loop(ctx context.Context) error {
	for {
		if a.budget != nil && a.compact != nil && a.budget.Status().NearLimit {
			if err := a.compact.Compact(ctx, a.store, a.threadId); err != nil {
				return lace.Wrap(lace.KindStorage, err, "compaction failed").WithThread(a.threadId)
			}
		}

		calls, err := a.runTurn(ctx)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return nil
		}

		a.setState(lace.StateAwaitingTool)
		if err := a.executeToolCalls(ctx, calls); err != nil {
			return err
		}
		a.setState(lace.StateThinking)
	}
}

// executeToolCalls runs calls sequentially in declaration order (spec §4.6
// step 6) and appends a TOOL_RESULT for each, including synthetic failures.
func (a *Agent) executeToolCalls(ctx context.Context, calls []lace.ToolCall) error {
	for _, call := range calls {
		outcome, err := a.executor.Execute(ctx, a.threadId, call)
		if err != nil {
			return err
		}
		if outcome.ViaCallback {
			if err := a.appendEvent(ctx, lace.Event{Type: lace.EventToolApprovalResp, DataApprovalResp: &lace.ApprovalResponseData{CallId: call.ID, Decision: outcome.Decision}}); err != nil {
				return err
			}
		}
		if err := a.appendEvent(ctx, lace.Event{Type: lace.EventToolResult, DataToolResult: &lace.ToolResultData{
			CallId:  outcome.Result.CallId,
			Status:  outcome.Result.Status,
			Content: outcome.Result.Content,
			IsError: outcome.Result.IsError,
			Reason:  outcome.Result.Reason,
		}}); err != nil {
			return err
		}
	}
	return nil
}

// runTurn opens one provider stream (with turn-level retry on transient
// Finish(error)) and returns the tool calls it collected, or nil if the turn
// ended without any.
func (a *Agent) runTurn(ctx context.Context) ([]lace.ToolCall, error) {
	raw, err := a.store.Events(ctx, a.threadId)
	if err != nil {
		return nil, lace.Wrap(lace.KindStorage, err, "load thread events").WithThread(a.threadId)
	}
	messages := buildMessages(lace.Replay(raw))

	req := provider.Request{
		Model:     a.cfg.Model,
		System:    a.cfg.System,
		Messages:  messages,
		Tools:     toolSpecs(a.registry),
		MaxTokens: a.cfg.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff.Compute(a.cfg.Retry, attempt-1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		calls, retryable, err := a.streamOnce(ctx, req)
		if err == nil {
			return calls, nil
		}
		if lace.IsKind(err, lace.KindUserStopped) {
			return nil, err
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	_ = a.appendEvent(ctx, lace.Event{Type: lace.EventLocalSystemMessage, DataSystemMessage: &lace.SystemMessageData{Text: "provider error: " + lastErr.Error()}})
	return nil, lace.Wrap(lace.KindTransientProvider, lastErr, "provider turn failed").WithThread(a.threadId)
}

// streamOnce opens a single provider stream and drives it to a Finish event,
// translating each ProviderEvent into the corresponding thread event(s) per
// spec §4.6 step 4. retryable reports whether a Finish(error) or stream
// error is worth a fresh attempt.
func (a *Agent) streamOnce(ctx context.Context, req provider.Request) (calls []lace.ToolCall, retryable bool, err error) {
	stream, err := a.prov.Complete(ctx, req)
	if err != nil {
		return nil, isTransientProviderError(err), err
	}

	var text strings.Builder
	var pending []lace.ToolCall
	toolNames := make(map[string]string)
	seen := make(map[string]bool)
	var usage lace.TokenUsage
	usageDelivered := false
	entered := false

	for {
		ev, ok, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, false, a.abortTurnForCancellation(ctx)
			}
			return nil, isTransientProviderError(err), err
		}
		if !ok {
			return nil, true, ErrStreamEndedWithoutFinish
		}

		switch ev.Kind {
		case provider.EventTextDelta:
			if !entered {
				entered = true
				a.setState(lace.StateStreaming)
			}
			text.WriteString(ev.TextDelta)
			a.sub.Notify(ctx, lace.Event{ThreadId: a.threadId, Type: lace.EventAgentToken, DataAgentToken: &lace.AgentTokenData{Fragment: ev.TextDelta}})

		case provider.EventThinkingDelta:
			if ev.ThinkingDelta != "" {
				if err := a.appendEvent(ctx, lace.Event{Type: lace.EventAgentThinking, DataThinking: &lace.ThinkingData{Text: ev.ThinkingDelta}}); err != nil {
					return nil, false, err
				}
			}

		case provider.EventToolCallStart:
			if seen[ev.ToolCallID] {
				if err := a.appendEvent(ctx, lace.Event{Type: lace.EventLocalSystemMessage, DataSystemMessage: &lace.SystemMessageData{Text: "duplicate tool call id dropped: " + ev.ToolCallID}}); err != nil {
					return nil, false, err
				}
				continue
			}
			toolNames[ev.ToolCallID] = ev.ToolCallName

		case provider.EventToolCallArgs:
			// Argument fragments are accumulated by the provider adapter;
			// this state machine only needs the fully parsed ToolCallEnd.

		case provider.EventToolCallEnd:
			if seen[ev.ToolCallID] {
				continue
			}
			name := ev.ToolCallName
			if name == "" {
				name = toolNames[ev.ToolCallID]
			}
			seen[ev.ToolCallID] = true
			call := lace.ToolCall{ID: ev.ToolCallID, Name: name, Arguments: ev.ToolCallArgs}
			pending = append(pending, call)
			if err := a.appendEvent(ctx, lace.Event{Type: lace.EventToolCall, DataToolCall: &lace.ToolCallData{CallId: call.ID, Name: call.Name, Arguments: call.Arguments}}); err != nil {
				return nil, false, err
			}

		case provider.EventUsage:
			if ev.Usage != nil {
				usage = *ev.Usage
				usageDelivered = true
				if a.budget != nil {
					a.budget.Record(*ev.Usage)
				}
			}

		case provider.EventFinish:
			if !usageDelivered {
				usage = a.estimateUsage(req, text.String())
				if a.budget != nil {
					a.budget.Record(usage)
				}
			}
			return a.handleFinish(ctx, ev, text.String(), pending, usage)
		}
	}
}

// estimateUsage falls back to tokenbudget.EstimateTokens when the provider
// delivered no EventUsage for the turn, so the budget still advances against
// a streaming backend that never reports real token counts.
func (a *Agent) estimateUsage(req provider.Request, completion string) lace.TokenUsage {
	var prompt strings.Builder
	prompt.WriteString(req.System)
	for _, m := range req.Messages {
		prompt.WriteString(m.Text)
	}
	return lace.NewTokenUsage(tokenbudget.EstimateTokens(prompt.String()), tokenbudget.EstimateTokens(completion))
}

// handleFinish implements spec §4.6 steps 5-8.
func (a *Agent) handleFinish(ctx context.Context, ev provider.Event, text string, calls []lace.ToolCall, usage lace.TokenUsage) ([]lace.ToolCall, bool, error) {
	switch ev.FinishReason {
	case provider.FinishEndTurn, provider.FinishMaxTokens:
		truncated := ev.FinishReason == provider.FinishMaxTokens
		if text != "" {
			if err := a.appendEvent(ctx, lace.Event{Type: lace.EventAgentMessage, DataAgentMessage: &lace.AgentMessageData{Text: text, Usage: usagePtr(usage), Truncated: truncated}}); err != nil {
				return nil, false, err
			}
		}
		if truncated && a.compact != nil {
			if err := a.compact.Compact(ctx, a.store, a.threadId); err != nil {
				return nil, false, lace.Wrap(lace.KindStorage, err, "compaction after truncation failed").WithThread(a.threadId)
			}
		}
		return nil, false, nil

	case provider.FinishToolUse:
		if text != "" {
			if err := a.appendEvent(ctx, lace.Event{Type: lace.EventAgentMessage, DataAgentMessage: &lace.AgentMessageData{Text: text, Usage: usagePtr(usage)}}); err != nil {
				return nil, false, err
			}
		}
		return calls, false, nil

	case provider.FinishError:
		return nil, isTransientProviderError(ev.Err), ev.Err

	default:
		return nil, false, fmt.Errorf("agent: unknown finish reason %q", ev.FinishReason)
	}
}

// abortTurnForCancellation implements the "user cancels mid-stream" edge
// case: partial assistant text is discarded (never appended), state cycles
// through stopping before the caller resets it to idle.
func (a *Agent) abortTurnForCancellation(ctx context.Context) error {
	a.setState(lace.StateStopping)
	return lace.New(lace.KindUserStopped, "turn cancelled mid-stream").WithThread(a.threadId)
}

func (a *Agent) appendEvent(ctx context.Context, evt lace.Event) error {
	evt.ThreadId = a.threadId
	if _, err := a.store.Append(ctx, a.threadId, evt); err != nil {
		return lace.Wrap(lace.KindStorage, err, "append event").WithThread(a.threadId)
	}
	a.sub.Notify(ctx, evt)
	return nil
}

func usagePtr(u lace.TokenUsage) *lace.TokenUsage {
	if u == (lace.TokenUsage{}) {
		return nil
	}
	return &u
}
