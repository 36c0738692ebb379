// Package eventsource models the out-of-scope host integration that
// delivers AUTH/NOTIFY events to the Event Dispatcher (C1). The concrete
// implementation (an Endpoint Security client, an eBPF LSM hook, or any
// other host-specific event feed) is never shipped here: only the
// interface the Dispatcher depends on is.
package eventsource

import (
	"context"

	"github.com/northpolesec/santa-sub009/internal/dispatch"
)

// Source delivers a stream of events and carries the Dispatcher's
// Response back to the host kernel/framework that is actually enforcing
// the decision.
type Source interface {
	// Events streams dispatch.Event values until ctx is canceled.
	Events(ctx context.Context) (<-chan dispatch.Event, error)

	// Respond delivers the Dispatcher's Response for a previously streamed
	// event back to the host enforcement point.
	Respond(ctx context.Context, ev dispatch.Event, resp dispatch.Response) error

	// Subscribe/Unsubscribe install or remove a filesystem AUTH watch at
	// the host level, driven by faa.SubscriptionDiff (spec §4.5 step 4).
	Subscribe(ctx context.Context, path string) error
	Unsubscribe(ctx context.Context, path string) error
}
