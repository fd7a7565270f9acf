package tools

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/internal/backoff"
	"github.com/lacehq/lace/pkg/lace"
)

func newTestExecutor(registry *Registry, approvals *ApprovalChecker) *Executor {
	cfg := DefaultConfig()
	cfg.Backoff = backoff.Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	return NewExecutor(registry, approvals, nil, cfg)
}

func TestExecuteUnknownToolReturnsFailedResult(t *testing.T) {
	e := newTestExecutor(NewRegistry(), nil)
	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "missing"})
	require.NoError(t, err)
	require.True(t, outcome.Result.IsError)
	require.Equal(t, lace.ToolFailed, outcome.Result.Status)
}

func TestExecuteSchemaValidationFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "greet", schema: `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`})
	e := newTestExecutor(r, nil)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "greet", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.True(t, outcome.Result.IsError)
}

func TestExecuteSchemaValidationSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "greet", schema: `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`})
	e := newTestExecutor(r, nil)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "greet", Arguments: map[string]any{"name": "ada"}})
	require.NoError(t, err)
	require.False(t, outcome.Result.IsError)
	require.Equal(t, lace.ToolCompleted, outcome.Result.Status)
}

func TestExecuteDeniedToolReturnsFailedReasonDenied(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "bash"})
	approvals := NewApprovalChecker(ApprovalPolicy{Deny: []string{"bash"}}, nil)
	e := newTestExecutor(r, approvals)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "bash", Arguments: map[string]any{"command": "rm -rf /"}})
	require.NoError(t, err)
	require.True(t, outcome.Result.IsError)
	require.Equal(t, "denied", outcome.Result.Reason)
}

func TestExecuteStopApprovalPropagatesUserStopped(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "bash"})
	callback := func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		return lace.ApprovalStop, nil
	}
	approvals := NewApprovalChecker(ApprovalPolicy{}, callback)
	e := newTestExecutor(r, approvals)

	_, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "bash", Arguments: map[string]any{"command": "rm -rf /"}})
	require.Error(t, err)
	require.True(t, lace.IsKind(err, lace.KindUserStopped))
}

func TestExecuteTimesOutSlowTool(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "slow", run: func(ctx context.Context, args map[string]any) (lace.ToolResult, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return lace.ToolResult{Status: lace.ToolCompleted}, nil
		case <-ctx.Done():
			return lace.ToolResult{}, ctx.Err()
		}
	}})
	cfg := DefaultConfig()
	cfg.Backoff = backoff.Policy{InitialMs: 1, MaxMs: 1, Factor: 1, Jitter: 0}
	cfg.DefaultTimeout = 5 * time.Millisecond
	e := NewExecutor(r, nil, nil, cfg)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "slow"})
	require.NoError(t, err)
	require.True(t, outcome.Result.IsError)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	r := NewRegistry()
	attempts := 0
	r.Register(&fakeTool{name: "flaky", run: func(ctx context.Context, args map[string]any) (lace.ToolResult, error) {
		attempts++
		if attempts < 2 {
			return lace.ToolResult{}, errors.New("transient failure")
		}
		return lace.ToolResult{Status: lace.ToolCompleted, Content: []lace.ContentBlock{lace.TextBlock("ok")}}, nil
	}})
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.Backoff = backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
	e := NewExecutor(r, nil, nil, cfg)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "flaky"})
	require.NoError(t, err)
	require.False(t, outcome.Result.IsError)
	require.Equal(t, 2, attempts)
	require.Equal(t, int64(1), e.Metrics().Retries)
}

func TestExecuteRejectsOversizedArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "greet"})
	e := newTestExecutor(r, nil)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{
		ID: "c1", Name: "greet",
		Arguments: map[string]any{"name": strings.Repeat("a", MaxArgsSize+1)},
	})
	require.NoError(t, err)
	require.True(t, outcome.Result.IsError)
	require.Contains(t, outcome.Result.Reason, "exceed")
}

func TestExecuteSandboxViolationNotAutoApprovedByAllowList(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "file_write"})
	// file_write is allow-listed, which would normally auto-approve it with
	// no callback consulted at all.
	approvals := NewApprovalChecker(ApprovalPolicy{Allow: []string{"file_write"}}, nil)
	allowedDir := t.TempDir()
	sandbox := NewSandbox(true, []string{allowedDir})
	cfg := DefaultConfig()
	cfg.Backoff = backoff.Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	e := NewExecutor(r, approvals, sandbox, cfg)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{
		ID: "c1", Name: "file_write",
		Arguments: map[string]any{"path": "/etc/outside-sandbox.txt", "content": "x"},
	})
	require.NoError(t, err)
	require.True(t, outcome.Result.IsError)
	require.Equal(t, "denied", outcome.Result.Reason)
	require.Equal(t, lace.ApprovalDeny, outcome.Decision)
}

func TestExecuteSandboxViolationReachesCallbackNotAutoAllow(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "file_write"})
	var gotReq ApprovalRequest
	callback := func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		gotReq = req
		return lace.ApprovalAllowOnce, nil
	}
	// Low risk annotations would normally auto-allow via the non-destructive
	// low-risk shortcut; a sandbox violation must still reach the callback.
	approvals := NewApprovalChecker(ApprovalPolicy{}, callback)
	allowedDir := t.TempDir()
	sandbox := NewSandbox(true, []string{allowedDir})
	cfg := DefaultConfig()
	cfg.Backoff = backoff.Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	e := NewExecutor(r, approvals, sandbox, cfg)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{
		ID: "c1", Name: "file_write",
		Arguments: map[string]any{"path": "/etc/outside-sandbox.txt", "content": "x"},
	})
	require.NoError(t, err)
	require.False(t, outcome.Result.IsError)
	require.True(t, gotReq.SandboxViolation)
	require.Equal(t, lace.RiskHigh, gotReq.Risk)
	require.True(t, outcome.ViaCallback)
}

func TestExecuteSandboxViolationAllowExpandWidensSandbox(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "file_write"})
	callback := func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		return lace.ApprovalAllowExpand, nil
	}
	approvals := NewApprovalChecker(ApprovalPolicy{}, callback)
	outsideDir := t.TempDir()
	targetPath := filepath.Join(outsideDir, "new-file.txt")
	sandbox := NewSandbox(true, []string{t.TempDir()})
	require.False(t, sandbox.IsAllowed(targetPath))
	cfg := DefaultConfig()
	cfg.Backoff = backoff.Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	e := NewExecutor(r, approvals, sandbox, cfg)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{
		ID: "c1", Name: "file_write",
		Arguments: map[string]any{"path": targetPath, "content": "x"},
	})
	require.NoError(t, err)
	require.False(t, outcome.Result.IsError)
	require.Equal(t, lace.ApprovalAllowExpand, outcome.Decision)
	require.True(t, sandbox.IsAllowed(targetPath))
}

func TestExecuteToolPanicBecomesFailedResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "boom", run: func(ctx context.Context, args map[string]any) (lace.ToolResult, error) {
		panic("kaboom")
	}})
	e := newTestExecutor(r, nil)

	outcome, err := e.Execute(context.Background(), "t1", lace.ToolCall{ID: "c1", Name: "boom"})
	require.NoError(t, err)
	require.True(t, outcome.Result.IsError)
	require.Equal(t, int64(1), e.Metrics().Panics)
}
