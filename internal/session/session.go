// Package session owns a tree of agents rooted at one thread: the root
// agent plus any child agents spawned by delegation. It is the single point
// that shares a tool inventory and approval policy across the whole tree,
// and the single point cancellation and approval routing flow through.
//
// Grounded on haasonsaas-nexus's internal/multiagent.Orchestrator (a
// registry of running agents sharing a provider and tool inventory) and
// internal/sessions.HierarchicalKey's parent/child key pattern, narrowed
// from free-form agent routing and channel-scoped keys to the spec's strict
// thread tree with dotted child ids and a fixed depth limit.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/lacehq/lace/internal/agent"
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/threadstore"
	"github.com/lacehq/lace/internal/tokenbudget"
	"github.com/lacehq/lace/internal/tools"
	"github.com/lacehq/lace/pkg/lace"
)

// DefaultMaxDepth is spec §6's default for delegation.maxDepth.
const DefaultMaxDepth = 3

// Config configures a Session's shared infrastructure and defaults for
// agents it constructs, both the root and any delegated children.
type Config struct {
	Store    threadstore.Store
	Provider provider.Provider
	Registry *tools.Registry
	Executor *tools.Executor
	Compact  agent.Compactor
	Sub      agent.Subscriber

	AgentConfig agent.Config
	// BudgetConfig is applied to a fresh Budget for every agent the session
	// constructs; a zero Limit means unlimited, matching tokenbudget.Config.
	BudgetConfig tokenbudget.Config

	MaxDepth int // delegation depth limit; 0 means DefaultMaxDepth
}

// runningAgent tracks one node of the tree for cancellation and lookup.
type runningAgent struct {
	agent  *agent.Agent
	cancel context.CancelFunc
}

// Session owns a root agent plus every agent spawned under it by
// delegation. All agents in the tree share the Session's Registry, Executor
// (and therefore its ApprovalChecker), and Subscriber, so approvals and
// subscriber notifications from anywhere in the tree surface at one place.
type Session struct {
	cfg  Config
	root lace.ThreadId

	mu       sync.Mutex
	running  map[lace.ThreadId]*runningAgent
	children map[lace.ThreadId]int // next child index per parent thread id
}

// New constructs a Session and its root agent for rootId. rootId must
// already exist in cfg.Store (callers typically call store.CreateThread
// first so thread creation and session construction stay independent
// concerns).
func New(rootId lace.ThreadId, cfg Config) *Session {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	s := &Session{
		cfg:      cfg,
		root:     rootId,
		running:  make(map[lace.ThreadId]*runningAgent),
		children: make(map[lace.ThreadId]int),
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(NewDelegateTool(s))
	}
	s.spawn(rootId, cfg.AgentConfig)
	return s
}

func (s *Session) spawn(id lace.ThreadId, acfg agent.Config) *agent.Agent {
	budget := tokenbudget.New(s.cfg.BudgetConfig)
	a := agent.New(id, s.cfg.Store, s.cfg.Provider, s.cfg.Executor, s.cfg.Registry, budget, s.cfg.Compact, s.cfg.Sub, acfg)
	s.mu.Lock()
	s.running[id] = &runningAgent{agent: a}
	s.mu.Unlock()
	return a
}

// Root returns the tree's root agent.
func (s *Session) Root() *agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[s.root].agent
}

// SendMessage runs the root agent's turn loop, deriving a cancellable
// context so CancelThread on the root id can interrupt it along with
// every in-flight descendant whose delegate call is still
// blocked on this same context chain.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	root := s.Root()
	derived, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.running[s.root].cancel = cancel
	s.mu.Unlock()
	defer cancel()

	return root.SendMessage(derived, text)
}

// CancelThread cancels exactly the subtree rooted at id: id's own in-flight
// turn and, by context derivation, any descendant delegate call still
// blocked on id's context. It does not affect id's ancestors or siblings.
// Per spec §4.7 ("cancelling a child only cancels that child").
func (s *Session) CancelThread(id lace.ThreadId) {
	s.mu.Lock()
	ra, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	ra.agent.Stop()
	if ra.cancel != nil {
		ra.cancel()
	}
}

// Agent looks up a running or completed agent by thread id.
func (s *Session) Agent(id lace.ThreadId) (*agent.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ra, ok := s.running[id]
	if !ok {
		return nil, false
	}
	return ra.agent, true
}

// Delegate implements spec §4.7's delegation contract: it allocates a child
// thread id, constructs a child agent sharing this session's tool inventory
// and approval policy, and runs it to completion on a context derived from
// ctx so cancelling the parent's turn cancels the child too. The child's
// final AGENT_MESSAGE text becomes the tool result string; the child's
// event stream remains queryable under its own thread id.
func (s *Session) Delegate(ctx context.Context, parentId lace.ThreadId, task string, model string) (lace.ToolResult, error) {
	if parentId.Depth()+1 > s.cfg.MaxDepth {
		return lace.ToolResult{
			Status:  lace.ToolFailed,
			IsError: true,
			Reason:  "depth_exceeded",
			Content: []lace.ContentBlock{lace.TextBlock(fmt.Sprintf("delegation depth limit (%d) exceeded", s.cfg.MaxDepth))},
		}, nil
	}

	childId := parentId.Child(s.nextChildIndex(parentId))
	if err := s.cfg.Store.CreateThread(ctx, childId, lace.ThreadMetadata{}); err != nil {
		return lace.ToolResult{}, lace.Wrap(lace.KindStorage, err, "create delegated thread").WithThread(childId)
	}

	acfg := s.cfg.AgentConfig
	if model != "" {
		acfg.Model = model
	}
	child := s.spawn(childId, acfg)

	childCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[childId].cancel = cancel
	s.mu.Unlock()
	defer cancel()

	err := child.SendMessage(childCtx, task)
	if err != nil {
		if lace.IsKind(err, lace.KindUserStopped) {
			return lace.ToolResult{Status: lace.ToolCancelled, IsError: true, Reason: "cancelled"}, nil
		}
		return lace.ToolResult{
			Status:  lace.ToolFailed,
			IsError: true,
			Reason:  "delegate_failed",
			Content: []lace.ContentBlock{lace.TextBlock(err.Error())},
		}, nil
	}

	text, err := s.finalAgentMessage(ctx, childId)
	if err != nil {
		return lace.ToolResult{}, err
	}
	return lace.ToolResult{Status: lace.ToolCompleted, Content: []lace.ContentBlock{lace.TextBlock(text)}}, nil
}

func (s *Session) finalAgentMessage(ctx context.Context, id lace.ThreadId) (string, error) {
	raw, err := s.cfg.Store.Events(ctx, id)
	if err != nil {
		return "", lace.Wrap(lace.KindStorage, err, "load delegated thread events").WithThread(id)
	}
	events := lace.Replay(raw)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == lace.EventAgentMessage {
			return events[i].DataAgentMessage.Text, nil
		}
	}
	return "", nil
}

func (s *Session) nextChildIndex(parentId lace.ThreadId) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.children[parentId] + 1
	s.children[parentId] = n
	return n
}
