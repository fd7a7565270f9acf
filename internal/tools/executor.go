package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lacehq/lace/internal/backoff"
	"github.com/lacehq/lace/internal/tracing"
	"github.com/lacehq/lace/pkg/lace"
)

// Config configures an Executor's concurrency, timeout, and retry behavior.
type Config struct {
	// MaxConcurrency bounds in-flight tool executions (default 4).
	MaxConcurrency int
	// DefaultTimeout is applied per call unless a per-tool override exists
	// (default 60s, per spec's tools.timeoutMs).
	DefaultTimeout time.Duration
	// MaxAttempts bounds retries for errors the tool body itself returns
	// (default 1, i.e. no retry).
	MaxAttempts int
	// Backoff computes the delay between attempts.
	Backoff backoff.Policy
}

// DefaultConfig returns the spec's default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		DefaultTimeout: 60 * time.Second,
		MaxAttempts:    1,
		Backoff:        backoff.FromConfig(500),
	}
}

// ToolOverride holds a per-tool timeout/attempts override.
type ToolOverride struct {
	Timeout     time.Duration
	MaxAttempts int
}

// Outcome bundles a tool's ToolResult with the risk classification and
// approval decision that gated its execution, so the agent loop can append
// the matching audit events without re-deriving them.
type Outcome struct {
	Result      lace.ToolResult
	Risk        lace.RiskLevel
	Decision    lace.ApprovalDecision
	ViaCallback bool // whether approval reached the callback tier (including a fail-closed deny with no callback), not a list/auto-allow shortcut
}

// Metrics tracks executor-wide counters, read via Snapshot.
type Metrics struct {
	mu         sync.Mutex
	executions int64
	retries    int64
	failures   int64
	timeouts   int64
	panics     int64
	denied     int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Executions int64
	Retries    int64
	Failures   int64
	Timeouts   int64
	Panics     int64
	Denied     int64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{m.executions, m.retries, m.failures, m.timeouts, m.panics, m.denied}
}

// Executor validates, arbitrates, and runs tool calls with bounded
// concurrency, grounded on internal/agent/executor.go's semaphore +
// exponential-retry shape. Per spec §4.6 the agent loop itself always calls
// Execute one call at a time in declaration order; the semaphore here exists
// to bound any future concurrent caller rather than to parallelize a single
// turn's calls.
type Executor struct {
	registry  *Registry
	approvals *ApprovalChecker
	sandbox   *Sandbox
	config    Config
	overrides map[string]ToolOverride
	schemas   sync.Map // tool name -> *jsonschema.Schema
	sem       chan struct{}
	metrics   *Metrics
}

// NewExecutor constructs an Executor over registry, gated by approvals and
// sandbox (either may be nil to disable that stage).
func NewExecutor(registry *Registry, approvals *ApprovalChecker, sandbox *Sandbox, config Config) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 60 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Executor{
		registry:  registry,
		approvals: approvals,
		sandbox:   sandbox,
		config:    config,
		overrides: make(map[string]ToolOverride),
		sem:       make(chan struct{}, config.MaxConcurrency),
		metrics:   &Metrics{},
	}
}

// ConfigureTool sets a per-tool timeout/retry override.
func (e *Executor) ConfigureTool(name string, override ToolOverride) {
	e.overrides[name] = override
}

// Metrics returns a snapshot of executor counters.
func (e *Executor) Metrics() MetricsSnapshot { return e.metrics.Snapshot() }

func (e *Executor) compiledSchema(tool Tool) (*jsonschema.Schema, error) {
	if cached, ok := e.schemas.Load(tool.Name()); ok {
		return cached.(*jsonschema.Schema), nil
	}
	raw := tool.InputSchema()
	if len(raw) == 0 {
		return nil, nil
	}
	schema, err := jsonschema.CompileString(tool.Name()+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	e.schemas.Store(tool.Name(), schema)
	return schema, nil
}

// Execute runs a single tool call through the full contract: resolve,
// validate, arbitrate approval, execute with timeout/retry, normalize.
// Tool bodies never throw to the caller — every failure mode below becomes
// a ToolResult, except UserStopped, which propagates to cancel the turn, and
// an error returned by the approval callback, which is returned as is.
func (e *Executor) Execute(ctx context.Context, threadId lace.ThreadId, call lace.ToolCall) (Outcome, error) {
	ctx, span := tracing.Start(ctx, "lace/tools", "tools.execute",
		attribute.String("lace.tool", call.Name),
		attribute.String("lace.thread_id", threadId.String()))
	defer span.End()

	tool, err := e.registry.resolve(call.Name)
	if err != nil {
		return Outcome{Result: failedResult(call.ID, "unknown tool: "+call.Name)}, nil
	}

	if raw, err := json.Marshal(call.Arguments); err == nil && len(raw) > MaxArgsSize {
		return Outcome{Result: failedResult(call.ID, fmt.Sprintf("tool arguments exceed %d bytes", MaxArgsSize))}, nil
	}

	if schema, err := e.compiledSchema(tool); err != nil {
		return Outcome{Result: failedResult(call.ID, "invalid schema: "+err.Error())}, nil
	} else if schema != nil {
		if err := schema.Validate(normalizeArgs(call.Arguments)); err != nil {
			return Outcome{Result: failedResult(call.ID, "schema validation failed: "+err.Error())}, nil
		}
	}

	risk := ClassifyRisk(call.Name, call.Arguments)
	annotations := tool.Annotations()

	var sandboxPath string
	var sandboxViolation bool
	if e.sandbox != nil && isPathTarget(call.Arguments) {
		path := stringArg(call.Arguments, "path", "file", "target")
		if path != "" && !e.sandbox.IsAllowed(path) {
			risk = lace.RiskHigh
			sandboxPath = path
			sandboxViolation = true
		}
	}

	decision := lace.ApprovalAllowOnce
	viaCallback := false
	switch {
	case e.approvals != nil:
		d, via, err := e.approvals.Arbitrate(ctx, threadId, call.Name, call.Arguments, annotations, risk, sandboxViolation, sandboxPath)
		if err != nil {
			tracing.RecordError(span, err)
			return Outcome{Risk: risk, ViaCallback: via}, err
		}
		decision = d
		viaCallback = via
	case sandboxViolation:
		// No approval checker configured at all: a sandbox escape must still
		// be denied or expanded, never silently allowed through.
		decision = lace.ApprovalDeny
	}

	ctx = withCallingThread(ctx, threadId)

	switch decision {
	case lace.ApprovalDeny:
		e.metrics.mu.Lock()
		e.metrics.denied++
		e.metrics.mu.Unlock()
		result := lace.ToolResult{CallId: call.ID, Status: lace.ToolFailed, IsError: true, Reason: "denied"}
		return Outcome{Result: result, Risk: risk, Decision: decision, ViaCallback: viaCallback}, nil
	case lace.ApprovalStop:
		return Outcome{Risk: risk, Decision: decision, ViaCallback: viaCallback}, lace.New(lace.KindUserStopped, "user stopped approval for "+call.Name).WithThread(threadId)
	case lace.ApprovalAllowExpand:
		if sandboxViolation && e.sandbox != nil && sandboxPath != "" {
			if err := e.sandbox.ExpandSession(sandboxPath); err != nil {
				tracing.RecordError(span, err)
				result := lace.ToolResult{CallId: call.ID, Status: lace.ToolFailed, IsError: true, Reason: "sandbox expansion failed: " + err.Error()}
				return Outcome{Result: result, Risk: risk, Decision: decision, ViaCallback: viaCallback}, nil
			}
		}
	}

	result := e.executeWithRetry(ctx, tool, call)
	return Outcome{Result: result, Risk: risk, Decision: decision, ViaCallback: viaCallback}, nil
}

func (e *Executor) timeoutFor(name string) time.Duration {
	if o, ok := e.overrides[name]; ok && o.Timeout > 0 {
		return o.Timeout
	}
	return e.config.DefaultTimeout
}

func (e *Executor) attemptsFor(name string) int {
	if o, ok := e.overrides[name]; ok && o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return e.config.MaxAttempts
}

func (e *Executor) executeWithRetry(ctx context.Context, tool Tool, call lace.ToolCall) lace.ToolResult {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return failedResult(call.ID, "cancelled before execution")
	}

	timeout := e.timeoutFor(tool.Name())
	maxAttempts := e.attemptsFor(tool.Name())

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.runOnce(ctx, tool, call, timeout)
		if err == nil {
			e.metrics.mu.Lock()
			e.metrics.executions++
			if attempt > 1 {
				e.metrics.retries += int64(attempt - 1)
			}
			e.metrics.mu.Unlock()
			return result
		}
		lastErr = err
		if ctx.Err() != nil || attempt >= maxAttempts {
			break
		}
		select {
		case <-time.After(backoff.Compute(e.config.Backoff, attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = maxAttempts
		}
	}

	e.metrics.mu.Lock()
	e.metrics.executions++
	e.metrics.failures++
	e.metrics.mu.Unlock()
	return failedResult(call.ID, lastErr.Error())
}

func (e *Executor) runOnce(ctx context.Context, tool Tool, call lace.ToolCall, timeout time.Duration) (result lace.ToolResult, err error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result lace.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.metrics.mu.Lock()
				e.metrics.panics++
				e.metrics.mu.Unlock()
				slog.Warn("tool execution panicked, recovered", "tool", tool.Name(), "tool_call_id", call.ID, "panic", r)
				done <- outcome{err: fmt.Errorf("tool panic: %v\n%s", r, debug.Stack())}
			}
		}()
		res, execErr := tool.Execute(execCtx, call.Arguments)
		done <- outcome{result: res, err: execErr}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return lace.ToolResult{}, o.err
		}
		o.result.CallId = call.ID
		if o.result.Status == "" {
			o.result.Status = lace.ToolCompleted
		}
		return o.result, nil
	case <-execCtx.Done():
		if ctx.Err() == nil {
			e.metrics.mu.Lock()
			e.metrics.timeouts++
			e.metrics.mu.Unlock()
			slog.Warn("tool execution timed out, result discarded", "tool", tool.Name(), "tool_call_id", call.ID, "timeout", timeout)
			return lace.ToolResult{}, fmt.Errorf("tool %s timed out after %s", tool.Name(), timeout)
		}
		return lace.ToolResult{}, ctx.Err()
	}
}

func failedResult(callId, reason string) lace.ToolResult {
	return lace.ToolResult{
		CallId:  callId,
		Status:  lace.ToolFailed,
		IsError: true,
		Reason:  reason,
		Content: []lace.ContentBlock{lace.TextBlock(reason)},
	}
}

func isPathTarget(args map[string]any) bool {
	for _, k := range []string{"path", "file", "target"} {
		if _, ok := args[k]; ok {
			return true
		}
	}
	return false
}

// normalizeArgs returns args as the bare any the jsonschema validator
// expects, substituting an empty object for a nil call (a tool with no
// required fields must still validate against {}).
func normalizeArgs(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
