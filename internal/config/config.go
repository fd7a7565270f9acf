// Package config loads the YAML configuration surface named in spec §6:
// token budget, tool execution, sandboxing, delegation depth, and retry
// behavior. Grounded on haasonsaas-nexus's internal/config/config.go —
// one struct per concern assembled into a root Config, each with a
// Default*() constructor, loaded via Load with env-var expansion and
// strict unknown-field rejection, then defaulted and validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lacehq/lace/internal/backoff"
	"github.com/lacehq/lace/internal/tokenbudget"
	"github.com/lacehq/lace/internal/tools"
)

// TokenBudgetConfig configures the per-thread token accounting, per spec
// §4.3 / §6 (tokenBudget.*).
type TokenBudgetConfig struct {
	Limit            int64   `yaml:"limit"`
	WarningThreshold float64 `yaml:"warningThreshold"`
	Reserve          int64   `yaml:"reserve"`
}

// DefaultTokenBudgetConfig mirrors tokenbudget.DefaultConfig's defaults
// with an unset limit (the caller binds Limit from the selected model).
func DefaultTokenBudgetConfig() TokenBudgetConfig {
	return TokenBudgetConfig{WarningThreshold: 0.85, Reserve: 1024}
}

// ToBudgetConfig converts to the tokenbudget package's Config.
func (c TokenBudgetConfig) ToBudgetConfig() tokenbudget.Config {
	return tokenbudget.Config{Limit: c.Limit, WarningThreshold: c.WarningThreshold, Reserve: c.Reserve}
}

// ToolsConfig configures tool-call approval shortcuts and per-call timeout,
// per §6 (tools.*).
type ToolsConfig struct {
	AutoApprove []string `yaml:"autoApprove"`
	DenyList    []string `yaml:"denyList"`
	TimeoutMs   int      `yaml:"timeoutMs"`
}

// DefaultToolsConfig returns the spec default of a 60s per-call timeout and
// empty allow/deny lists.
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{TimeoutMs: 60000}
}

// ToApprovalPolicy converts to the tools package's ApprovalPolicy.
func (c ToolsConfig) ToApprovalPolicy() tools.ApprovalPolicy {
	return tools.ApprovalPolicy{Allow: c.AutoApprove, Deny: c.DenyList}
}

// ToExecutorConfig builds an executor Config from the configured timeout,
// layering it onto the package's concurrency/retry defaults.
func (c ToolsConfig) ToExecutorConfig(retry RetryConfig) tools.Config {
	cfg := tools.DefaultConfig()
	cfg.DefaultTimeout = time.Duration(c.TimeoutMs) * time.Millisecond
	cfg.Backoff = retry.ToPolicy()
	return cfg
}

// SandboxConfig configures filesystem sandboxing for tool calls that name a
// target path, per §6 (sandbox.*). Enabled is a pointer so an omitted section can
// default to true while an explicit `enabled: false` is still honored —
// a plain bool can't distinguish those two cases.
type SandboxConfig struct {
	AllowedPaths []string `yaml:"allowedPaths"`
	Enabled      *bool    `yaml:"enabled"`
}

// DefaultSandboxConfig enables the sandbox with the process's working
// directory and temp directory as allowed prefixes.
func DefaultSandboxConfig() SandboxConfig {
	enabled := true
	return SandboxConfig{Enabled: &enabled, AllowedPaths: tools.DefaultAllowedPaths()}
}

// enabled resolves the tri-state Enabled, defaulting to true when unset.
func (c SandboxConfig) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ToSandbox builds a tools.Sandbox from the configured prefixes.
func (c SandboxConfig) ToSandbox() *tools.Sandbox {
	return tools.NewSandbox(c.enabled(), c.AllowedPaths)
}

// DelegationConfig bounds the delegation tree's depth, per §6
// (delegation.maxDepth).
type DelegationConfig struct {
	MaxDepth int `yaml:"maxDepth"`
}

// DefaultDelegationConfig mirrors session.DefaultMaxDepth.
func DefaultDelegationConfig() DelegationConfig {
	return DelegationConfig{MaxDepth: 3}
}

// RetryConfig configures turn-level provider retry backoff, per §6
// (retry.*).
type RetryConfig struct {
	MaxAttempts   int `yaml:"maxAttempts"`
	BaseBackoffMs int `yaml:"baseBackoffMs"`
}

// DefaultRetryConfig mirrors agent.DefaultConfig's retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseBackoffMs: 500}
}

// ToPolicy converts to a backoff.Policy via backoff.FromConfig.
func (c RetryConfig) ToPolicy() backoff.Policy {
	return backoff.FromConfig(c.BaseBackoffMs)
}

// Config is the root configuration surface, one nested struct per concern.
type Config struct {
	TokenBudget TokenBudgetConfig `yaml:"tokenBudget"`
	Tools       ToolsConfig       `yaml:"tools"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Delegation  DelegationConfig  `yaml:"delegation"`
	Retry       RetryConfig       `yaml:"retry"`
}

// Default returns a Config populated entirely from the per-concern
// Default*() constructors.
func Default() Config {
	return Config{
		TokenBudget: DefaultTokenBudgetConfig(),
		Tools:       DefaultToolsConfig(),
		Sandbox:     DefaultSandboxConfig(),
		Delegation:  DefaultDelegationConfig(),
		Retry:       DefaultRetryConfig(),
	}
}

// Load reads path, expands ${VAR} references against the environment,
// decodes it as a single strict YAML document (unknown keys fail), and
// fills any zero-valued field with its concern's default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets a handful of hot-path settings be tuned without
// editing the file, mirroring the teacher's NEXUS_* override convention.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LACE_TOKEN_BUDGET_LIMIT")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TokenBudget.Limit = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("LACE_DELEGATION_MAX_DEPTH")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Delegation.MaxDepth = parsed
		}
	}
}

// applyDefaults fills zero-valued fields of each concern from its
// Default*() constructor. A merge-with-override helper, not a validator:
// any field the caller already set wins.
func applyDefaults(cfg *Config) {
	if cfg.TokenBudget.WarningThreshold == 0 {
		cfg.TokenBudget.WarningThreshold = DefaultTokenBudgetConfig().WarningThreshold
	}
	if cfg.TokenBudget.Reserve == 0 {
		cfg.TokenBudget.Reserve = DefaultTokenBudgetConfig().Reserve
	}
	if cfg.Tools.TimeoutMs == 0 {
		cfg.Tools.TimeoutMs = DefaultToolsConfig().TimeoutMs
	}
	if len(cfg.Sandbox.AllowedPaths) == 0 {
		cfg.Sandbox.AllowedPaths = DefaultSandboxConfig().AllowedPaths
	}
	if cfg.Delegation.MaxDepth == 0 {
		cfg.Delegation.MaxDepth = DefaultDelegationConfig().MaxDepth
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = DefaultRetryConfig().BaseBackoffMs
	}
}

func validate(cfg *Config) error {
	var issues []string
	if cfg.TokenBudget.WarningThreshold < 0 || cfg.TokenBudget.WarningThreshold > 1 {
		issues = append(issues, "tokenBudget.warningThreshold must be between 0 and 1")
	}
	if cfg.Tools.TimeoutMs < 0 {
		issues = append(issues, "tools.timeoutMs must be >= 0")
	}
	if cfg.Delegation.MaxDepth < 1 {
		issues = append(issues, "delegation.maxDepth must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		issues = append(issues, "retry.maxAttempts must be >= 1")
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
	}
	return nil
}
