package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/pkg/lace"
)

func TestArbitrateDenyListPrecedesAllowList(t *testing.T) {
	c := NewApprovalChecker(ApprovalPolicy{Allow: []string{"bash"}, Deny: []string{"bash"}}, nil)
	args := map[string]any{"command": "ls"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "bash", args, lace.ToolAnnotations{}, ClassifyRisk("bash", args), false, "")
	require.NoError(t, err)
	require.Equal(t, lace.ApprovalDeny, decision)
	require.False(t, via)
}

func TestArbitrateAllowList(t *testing.T) {
	c := NewApprovalChecker(ApprovalPolicy{Allow: []string{"bash"}}, nil)
	args := map[string]any{"command": "rm -rf /"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "bash", args, lace.ToolAnnotations{Destructive: true}, ClassifyRisk("bash", args), false, "")
	require.NoError(t, err)
	require.Equal(t, lace.ApprovalAllowOnce, decision)
	require.False(t, via)
}

func TestArbitrateAutoAllowsNonDestructiveLowRisk(t *testing.T) {
	c := NewApprovalChecker(ApprovalPolicy{}, nil)
	args := map[string]any{"path": "a.txt"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "file_read", args, lace.ToolAnnotations{Destructive: false}, ClassifyRisk("file_read", args), false, "")
	require.NoError(t, err)
	require.Equal(t, lace.ApprovalAllowOnce, decision)
	require.False(t, via)
}

func TestArbitrateFallsThroughToCallback(t *testing.T) {
	called := false
	callback := func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		called = true
		require.Equal(t, lace.RiskHigh, req.Risk)
		return lace.ApprovalAllowSession, nil
	}
	c := NewApprovalChecker(ApprovalPolicy{}, callback)
	args := map[string]any{"command": "rm -rf /"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "bash", args, lace.ToolAnnotations{Destructive: true}, ClassifyRisk("bash", args), false, "")
	require.NoError(t, err)
	require.True(t, called)
	require.True(t, via)
	require.Equal(t, lace.ApprovalAllowSession, decision)
}

func TestArbitrateAllowSessionIsCached(t *testing.T) {
	calls := 0
	callback := func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		calls++
		return lace.ApprovalAllowSession, nil
	}
	c := NewApprovalChecker(ApprovalPolicy{}, callback)
	args := map[string]any{"command": "rm -rf /"}
	risk := ClassifyRisk("bash", args)
	_, _, err := c.Arbitrate(context.Background(), "t1", "bash", args, lace.ToolAnnotations{Destructive: true}, risk, false, "")
	require.NoError(t, err)
	decision, via, err := c.Arbitrate(context.Background(), "t1", "bash", args, lace.ToolAnnotations{Destructive: true}, risk, false, "")
	require.NoError(t, err)
	require.Equal(t, lace.ApprovalAllowOnce, decision)
	require.False(t, via)
	require.Equal(t, 1, calls)
}

func TestArbitrateNilCallbackDeniesByDefault(t *testing.T) {
	c := NewApprovalChecker(ApprovalPolicy{}, nil)
	args := map[string]any{"command": "rm -rf /"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "bash", args, lace.ToolAnnotations{Destructive: true}, ClassifyRisk("bash", args), false, "")
	require.NoError(t, err)
	require.Equal(t, lace.ApprovalDeny, decision)
	require.True(t, via)
}

func TestArbitrateSandboxViolationSkipsAllowList(t *testing.T) {
	called := false
	callback := func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		called = true
		require.True(t, req.SandboxViolation)
		require.Equal(t, "/etc/passwd", req.Path)
		return lace.ApprovalDeny, nil
	}
	// file_write would normally auto-allow via the allow list, but a sandbox
	// violation must still reach the callback.
	c := NewApprovalChecker(ApprovalPolicy{Allow: []string{"file_write"}}, callback)
	args := map[string]any{"path": "/etc/passwd", "content": "x"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "file_write", args, lace.ToolAnnotations{}, lace.RiskHigh, true, "/etc/passwd")
	require.NoError(t, err)
	require.True(t, called)
	require.True(t, via)
	require.Equal(t, lace.ApprovalDeny, decision)
}

func TestArbitrateSandboxViolationDeniesFailClosedWithoutCallback(t *testing.T) {
	c := NewApprovalChecker(ApprovalPolicy{Allow: []string{"file_write"}}, nil)
	args := map[string]any{"path": "/etc/passwd", "content": "x"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "file_write", args, lace.ToolAnnotations{}, lace.RiskHigh, true, "/etc/passwd")
	require.NoError(t, err)
	require.Equal(t, lace.ApprovalDeny, decision)
	require.True(t, via)
}

func TestArbitrateSandboxViolationAllowsExpand(t *testing.T) {
	callback := func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		return lace.ApprovalAllowExpand, nil
	}
	c := NewApprovalChecker(ApprovalPolicy{}, callback)
	args := map[string]any{"path": "/tmp/outside/file.txt"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "file_write", args, lace.ToolAnnotations{}, lace.RiskHigh, true, "/tmp/outside/file.txt")
	require.NoError(t, err)
	require.True(t, via)
	require.Equal(t, lace.ApprovalAllowExpand, decision)
}

func TestArbitrateDenyListPrecedesSandboxExpand(t *testing.T) {
	c := NewApprovalChecker(ApprovalPolicy{Deny: []string{"file_write"}}, func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error) {
		t.Fatal("callback should not be reached when the deny list matches")
		return lace.ApprovalDeny, nil
	})
	args := map[string]any{"path": "/tmp/outside/file.txt"}
	decision, via, err := c.Arbitrate(context.Background(), "t1", "file_write", args, lace.ToolAnnotations{}, lace.RiskHigh, true, "/tmp/outside/file.txt")
	require.NoError(t, err)
	require.False(t, via)
	require.Equal(t, lace.ApprovalDeny, decision)
}
