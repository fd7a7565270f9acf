package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lacehq/lace/internal/agent"
	"github.com/lacehq/lace/internal/compaction"
	"github.com/lacehq/lace/internal/config"
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/session"
	"github.com/lacehq/lace/internal/threadstore"
	"github.com/lacehq/lace/internal/tools"
	"github.com/lacehq/lace/internal/tracing"
	"github.com/lacehq/lace/internal/usage"
	"github.com/lacehq/lace/pkg/lace"
)

// loadConfig loads path if set, otherwise returns the package defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

// buildProvider constructs the provider named by opts, reading its API key
// from the SDK's conventional environment variable.
func buildProvider(opts runOptions) (provider.Provider, error) {
	switch opts.providerName {
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel: firstNonEmpty(opts.model, "claude-sonnet-4-5"),
		})
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			DefaultModel: firstNonEmpty(opts.model, "gpt-4o"),
		})
	case "fake":
		return provider.NewFakeProvider("fake", provider.TextScript(lace.TokenUsage{}, "(fake provider has no script configured)")), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai, or fake)", opts.providerName)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildSessionDeps assembles the shared tool registry, executor, and
// approval checker every agent in a tree uses, per cfg's tools/sandbox
// settings.
func buildSessionDeps(cfg *config.Config) (*tools.Registry, *tools.Executor) {
	registry := tools.NewRegistry()
	sandbox := cfg.Sandbox.ToSandbox()

	checker := tools.NewApprovalChecker(cfg.Tools.ToApprovalPolicy(), terminalApproval)
	executor := tools.NewExecutor(registry, checker, sandbox, cfg.Tools.ToExecutorConfig(cfg.Retry))
	return registry, executor
}

// terminalApproval prompts on stdin/stdout for a tool-call decision. Used as
// the CLI's ApprovalCallback when a call falls through the allow/deny lists.
func terminalApproval(_ context.Context, req tools.ApprovalRequest) (lace.ApprovalDecision, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("approve tool %q (risk=%s)? [y]es/[s]ession/[n]o/[q]uit stop: ", req.ToolName, req.Risk)
	line, err := reader.ReadString('\n')
	if err != nil {
		return lace.ApprovalDeny, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return lace.ApprovalAllowOnce, nil
	case "s", "session":
		return lace.ApprovalAllowSession, nil
	case "q", "quit", "stop":
		return lace.ApprovalStop, nil
	default:
		return lace.ApprovalDeny, nil
	}
}

func runSend(ctx context.Context, opts runOptions, message string) error {
	tracer, shutdown := tracing.NewTracer(tracing.Config{ServiceName: "lace", ServiceVersion: version})
	defer func() { _ = shutdown(context.Background()) }()
	ctx, span := tracer.StartSpan(ctx, "lace.send_message", attribute.String("lace.provider", opts.providerName))
	defer span.End()

	requestId := uuid.NewString()
	span.SetAttributes(attribute.String("lace.request_id", requestId))
	slog.Info("send invocation started", "requestId", requestId, "provider", opts.providerName, "resume", opts.resume)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	store, err := threadstore.NewSQLiteStore(opts.dbPath)
	if err != nil {
		err = fmt.Errorf("open thread store: %w", err)
		tracing.RecordError(span, err)
		return err
	}

	threadId, err := resolveThreadId(ctx, store, opts)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if err := store.CreateThread(ctx, threadId, lace.ThreadMetadata{CreatedAt: time.Now().Unix()}); err != nil {
		err = fmt.Errorf("create thread: %w", err)
		tracing.RecordError(span, err)
		return err
	}

	prov, err := buildProvider(opts)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	registry, executor := buildSessionDeps(cfg)
	statusLookup := &sessionLookup{}
	registry.Register(compaction.NewStatusTool(statusLookup))

	acfg := agent.DefaultConfig()
	acfg.Model = opts.model
	acfg.Retry = cfg.Retry.ToPolicy()
	acfg.MaxRetries = cfg.Retry.MaxAttempts

	strategy := compaction.NewSummarizeStrategy(prov, compaction.DefaultConfig())

	sess := session.New(threadId, session.Config{
		Store:        store,
		Provider:     prov,
		Registry:     registry,
		Executor:     executor,
		Compact:      strategy,
		Sub:          printerSubscriber{},
		AgentConfig:  acfg,
		BudgetConfig: cfg.TokenBudget.ToBudgetConfig(),
		MaxDepth:     cfg.Delegation.MaxDepth,
	})
	statusLookup.sess = sess
	span.SetAttributes(attribute.String("lace.thread_id", threadId.String()))

	fmt.Printf("thread: %s\n", threadId)
	if err := sess.SendMessage(ctx, message); err != nil {
		if lace.IsKind(err, lace.KindBusy) {
			err = fmt.Errorf("agent is busy with another turn")
		}
		tracing.RecordError(span, err)
		return err
	}
	return nil
}

// resolveThreadId picks the thread to act on: the flag if given, the
// store's most recently touched thread for resume, or a fresh root id.
func resolveThreadId(ctx context.Context, store threadstore.Store, opts runOptions) (lace.ThreadId, error) {
	if opts.threadId != "" {
		return lace.ThreadId(opts.threadId), nil
	}
	if opts.resume {
		id, ok, err := store.LatestThreadId(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve latest thread: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return lace.NewRootThreadId(time.Now())
}

func runStatus(ctx context.Context, opts runOptions) error {
	store, err := threadstore.NewSQLiteStore(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}

	threadId, err := resolveThreadId(ctx, store, opts)
	if err != nil {
		return err
	}
	if opts.threadId == "" && !opts.resume {
		return fmt.Errorf("status requires --thread to target an existing thread")
	}

	events, err := store.Events(ctx, threadId)
	if err != nil {
		return fmt.Errorf("read thread: %w", err)
	}
	var cumulative lace.TokenUsage
	count := 0
	for _, evt := range lace.Replay(events) {
		if evt.Type == lace.EventAgentMessage && evt.DataAgentMessage.Usage != nil {
			cumulative = cumulative.Add(*evt.DataAgentMessage.Usage)
			count++
		}
	}
	fmt.Printf("thread: %s\nagent messages with usage: %d\ncumulative tokens: %d\n", threadId, count, cumulative.Total)
	if amount, ok := usage.EstimateCost(opts.model, cumulative); ok {
		fmt.Printf("estimated cost (%s): %s\n", opts.model, usage.FormatUSD(amount))
	}
	return nil
}

// printerSubscriber prints persisted and transient events to stdout as they
// arrive, in the spirit of a simple REPL transcript.
type printerSubscriber struct{}

func (printerSubscriber) Notify(_ context.Context, evt lace.Event) {
	switch evt.Type {
	case lace.EventAgentToken:
		fmt.Print(evt.DataAgentToken.Fragment)
	case lace.EventAgentMessage:
		fmt.Printf("\nagent: %s\n", evt.DataAgentMessage.Text)
	case lace.EventToolCall:
		fmt.Printf("\n[tool call] %s(%v)\n", evt.DataToolCall.Name, evt.DataToolCall.Arguments)
	case lace.EventToolResult:
		fmt.Printf("[tool result] status=%s\n", evt.DataToolResult.Status)
	case lace.EventLocalSystemMessage:
		fmt.Printf("\n[system] %s\n", evt.DataSystemMessage.Text)
	}
}

// sessionLookup adapts a *session.Session (constructed after this value) to
// compaction.AgentLookup; the session is filled in once built since the
// status tool must be registered before session.New runs (it shares the
// session's tool registry).
type sessionLookup struct {
	sess *session.Session
}

func (l *sessionLookup) Agent(id lace.ThreadId) (*agent.Agent, bool) {
	if l.sess == nil {
		return nil, false
	}
	return l.sess.Agent(id)
}
