package agent

import (
	"errors"
	"strings"
)

// ErrNoProvider indicates the agent was constructed without a Provider.
var ErrNoProvider = errors.New("agent: no provider configured")

// ErrStreamEndedWithoutFinish indicates a provider's Stream returned
// (Event{}, false, nil) — exhausted — without ever emitting a Finish event,
// which violates the Provider contract.
var ErrStreamEndedWithoutFinish = errors.New("agent: provider stream ended without a finish event")

// isTransientProviderError reports whether err looks like a rate limit,
// network blip, or transient server error worth a turn-level retry, versus
// a fatal misconfiguration. Grounded on
// internal/agent/providers/openai.go's isRetryableError substring checks,
// generalized across both adapters since neither SDK exposes a single
// closed retryable-error type.
func isTransientProviderError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, token := range []string{
		"rate limit", "429", "500", "502", "503", "504",
		"timeout", "deadline exceeded", "connection reset", "econnreset",
	} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
