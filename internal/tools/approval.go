package tools

import (
	"context"
	"strings"
	"sync"

	"github.com/lacehq/lace/pkg/lace"
)

// ApprovalRequest is the information handed to an ApprovalCallback.
type ApprovalRequest struct {
	ThreadId lace.ThreadId
	ToolName string
	Args     map[string]any
	Risk     lace.RiskLevel
	// SandboxViolation is set when the call's target path resolves outside
	// the configured sandbox. The callback may answer ApprovalAllowExpand to
	// add the path to the sandbox for the rest of the process lifetime,
	// rather than only allowing this one call.
	SandboxViolation bool
	// Path is the resolved target path that triggered SandboxViolation, the
	// argument ApprovalAllowExpand expands the sandbox with. Empty when
	// SandboxViolation is false.
	Path string
}

// ApprovalCallback asks an external decision-maker (TTY prompt, web modal,
// auto-decider) to resolve a pending approval. It may be asynchronous.
type ApprovalCallback func(ctx context.Context, req ApprovalRequest) (lace.ApprovalDecision, error)

// ApprovalPolicy configures the allow/deny lists consulted before falling
// back to the callback. Patterns support exact match, "prefix*", and "*".
type ApprovalPolicy struct {
	Allow []string
	Deny  []string
}

// ApprovalChecker arbitrates tool-call approval per spec §4.4's precedence:
// deny list first, then allow list, then the session's allow_session cache,
// then an auto-allow for non-destructive low-risk tools, and only then the
// callback. Grounded on the teacher's ApprovalChecker/ApprovalPolicy shape
// (internal/agent/approval.go), narrowed from free-form pattern matching to
// the spec's closed four-decision set.
type ApprovalChecker struct {
	mu       sync.Mutex
	policy   ApprovalPolicy
	callback ApprovalCallback
	session  map[string]bool // allow_session cache, keyed by tool name
}

// NewApprovalChecker constructs a checker with the given policy and
// callback. callback may be nil, in which case any tool call that falls
// through to it is denied (fail closed).
func NewApprovalChecker(policy ApprovalPolicy, callback ApprovalCallback) *ApprovalChecker {
	return &ApprovalChecker{
		policy:   policy,
		callback: callback,
		session:  make(map[string]bool),
	}
}

// Arbitrate decides whether call may proceed, invoking the callback only
// when no list rule and no cached allow_session decision resolves it.
// viaCallback reports whether arbitration reached the callback tier, which
// includes the fail-closed deny when no callback is configured. The agent
// loop records only those decisions, as a TOOL_APPROVAL_RESPONSE event; no
// TOOL_APPROVAL_REQUEST event is emitted, and list and auto-allow
// resolutions are not recorded.
//
// risk is the caller's risk classification for this call, already elevated
// to lace.RiskHigh by the caller when the call is a sandbox escape (see
// Executor.Execute). sandboxViolation reports that escape directly: per
// spec §4.4, "a write-class tool whose target resolves outside the [sandbox]
// must either be denied or prompt an expansion", so a sandbox violation
// skips every auto-approval path (allow list, cached allow_session, the
// non-destructive/low-risk shortcut) and always reaches the callback —
// denying fail-closed if there is none — rather than risking a silent
// auto-approve of an escape. path is the resolved target that triggered the
// violation, forwarded to the callback so it can expand the sandbox instead
// of only allowing the one call.
func (c *ApprovalChecker) Arbitrate(ctx context.Context, threadId lace.ThreadId, toolName string, args map[string]any, annotations lace.ToolAnnotations, risk lace.RiskLevel, sandboxViolation bool, path string) (decision lace.ApprovalDecision, viaCallback bool, err error) {
	// Deny list takes precedence over everything, including a sandbox
	// violation and allow_session.
	if matchesPattern(c.policy.Deny, toolName) {
		return lace.ApprovalDeny, false, nil
	}

	if !sandboxViolation {
		if matchesPattern(c.policy.Allow, toolName) {
			return lace.ApprovalAllowOnce, false, nil
		}

		c.mu.Lock()
		cached := c.session[toolName]
		c.mu.Unlock()
		if cached {
			return lace.ApprovalAllowOnce, false, nil
		}

		if !annotations.Destructive && risk == lace.RiskLow {
			return lace.ApprovalAllowOnce, false, nil
		}
	}

	if c.callback == nil {
		return lace.ApprovalDeny, true, nil
	}
	d, err := c.callback(ctx, ApprovalRequest{ThreadId: threadId, ToolName: toolName, Args: args, Risk: risk, SandboxViolation: sandboxViolation, Path: path})
	if err != nil {
		return "", true, err
	}
	if d == lace.ApprovalAllowSession {
		c.mu.Lock()
		c.session[toolName] = true
		c.mu.Unlock()
	}
	// ApprovalAllowExpand is applied by the caller, which owns the Sandbox
	// instance — Arbitrate only arbitrates the decision.
	return d, true, nil
}

func matchesPattern(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == name {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}
