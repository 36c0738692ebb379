// Package synccollab models the out-of-scope sync transport that delivers
// rule batches, FAA policy documents, and mode changes to the Control
// Surface (C9), and carries decision telemetry back out. Only the
// interface is defined here: the actual transport (HTTP long-poll,
// websocket, gRPC, whatever the fleet management backend speaks) is part
// of the host integration and is never implemented in this module.
package synccollab

import (
	"context"

	"github.com/northpolesec/santa-sub009/internal/messages"
)

// Client is what the Control Surface needs from a sync transport: receive
// directive envelopes, and acknowledge or report back on them.
type Client interface {
	// Directives streams incoming envelopes until ctx is canceled.
	Directives(ctx context.Context) (<-chan messages.Envelope, error)

	// Ack reports the outcome of handling a previously received envelope.
	Ack(ctx context.Context, requestID string, ack messages.AckPayload) error

	// PublishDecisionEvent forwards a single Decision Logger record
	// upstream, best-effort (spec §4.9 read-backs).
	PublishDecisionEvent(ctx context.Context, ev messages.DecisionEventPayload) error
}
