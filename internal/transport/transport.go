// Package transport implements the node's message transport: addressed,
// best-effort request/response messaging with a per-request timeout and a
// cancellation-on-timeout signal. The core (router and driver state
// machines) only relies on this delivery contract, never on the wire
// details, so it is kept behind the Transport interface and exercised in
// tests through an in-memory fake.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/llmfed/dispatcher/internal/envelope"
)

// ErrSendFailure is returned when a request could not be delivered or timed
// out waiting for a reply. The spec treats both cases identically: "a
// timeout is handled as a negative probe reply ... and as an abandoned job
// ... for RunJob dispatch."
var ErrSendFailure = errors.New("transport: send failure")

// Handler processes one inbound envelope to completion and returns the
// reply envelope to send back. It is invoked synchronously by the
// transport's listener for every inbound request, which is what lets the
// router/driver loop stay single-threaded: Handler itself does all the
// state-machine work before returning.
type Handler func(ctx context.Context, env envelope.Envelope) envelope.Envelope

// Transport is what the router and driver depend on to talk to each other
// and to clients.
type Transport interface {
	// Send delivers env to the addressed peer and blocks for its reply, up
	// to timeout. On timeout or any delivery failure it returns
	// ErrSendFailure, mirroring the "synthetic send-failure carrying the
	// original request's context" the spec describes.
	Send(ctx context.Context, to envelope.Address, env envelope.Envelope, timeout time.Duration) (envelope.Envelope, error)

	// Serve starts accepting inbound envelopes and dispatching them to
	// handler. It blocks until the listener stops (or the context is
	// cancelled, for implementations that support it).
	Serve(ctx context.Context, handler Handler) error
}
