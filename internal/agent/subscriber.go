package agent

import (
	"context"

	"github.com/lacehq/lace/pkg/lace"
)

// Subscriber receives every event an agent produces, persisted or
// transient, in the exact order the agent considers authoritative for
// replay. Grounded on the teacher's EventSink shape
// (internal/agent/event_sink.go), narrowed to the single Notify method this
// spec's subscription surface needs.
type Subscriber interface {
	Notify(ctx context.Context, evt lace.Event)
}

// NopSubscriber discards every event. Used when a caller has no UI/log
// stream attached.
type NopSubscriber struct{}

func (NopSubscriber) Notify(context.Context, lace.Event) {}

// ChannelSubscriber forwards events onto a buffered channel, dropping events
// if the channel is full rather than blocking the agent loop.
type ChannelSubscriber struct {
	ch chan lace.Event
}

// NewChannelSubscriber returns a subscriber backed by a channel of the given
// buffer size, and the receive-only channel to read from.
func NewChannelSubscriber(buffer int) (*ChannelSubscriber, <-chan lace.Event) {
	ch := make(chan lace.Event, buffer)
	return &ChannelSubscriber{ch: ch}, ch
}

func (s *ChannelSubscriber) Notify(_ context.Context, evt lace.Event) {
	select {
	case s.ch <- evt:
	default:
	}
}
