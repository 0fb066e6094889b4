// Package driver implements the per-node gateway: it bridges local clients
// to either a local sidecar (when this node serves a model) or the router,
// and relays final results back to the originating client.
package driver

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/llmfed/dispatcher/internal/config"
	"github.com/llmfed/dispatcher/internal/envelope"
	"github.com/llmfed/dispatcher/internal/persistence"
	"github.com/llmfed/dispatcher/internal/recent"
	"github.com/llmfed/dispatcher/internal/sidecar"
	"github.com/llmfed/dispatcher/internal/transport"
)

// Driver owns all driver-side state. Like Router, every mutation happens on
// the single loop goroutine that drains tasks; handlers that need to do
// slow I/O (forwarding to the router, calling the sidecar) spawn a
// goroutine that reports its outcome back through submit.
type Driver struct {
	cfg       *config.DriverConfig
	self      envelope.Address
	transport transport.Transport
	store     persistence.Store
	log       hclog.Logger
	sidecar   sidecar.Sidecar

	st *state

	// recentlyDone is a diagnostics-only record of job ids this driver has
	// already relayed a final JobUpdate for, so a stray late JobUpdate can be
	// logged as "already finished" rather than "unknown job".
	recentlyDone *recent.Completed

	tasks chan func()
}

// New constructs a Driver. sc is the sidecar adapter wired at startup for
// whichever provider this node was configured to front — a driver node
// hosts exactly one model, per the component design, so one adapter
// instance is all a driver ever needs.
func New(cfg *config.DriverConfig, tr transport.Transport, store persistence.Store, log hclog.Logger, sc sidecar.Sidecar) (*Driver, error) {
	blob, err := store.Load()
	if err != nil {
		return nil, err
	}
	st, err := decodeState(blob)
	if err != nil {
		return nil, err
	}
	if st.RouterNode == "" {
		st.RouterNode = cfg.RouterNode
	}
	if st.RouterProcessID == "" {
		st.RouterProcessID = cfg.RouterProcessID
	}

	return &Driver{
		cfg:          cfg,
		self:         envelope.Address{Node: cfg.Node, ProcessID: cfg.ProcessID},
		transport:    tr,
		store:        store,
		log:          log,
		sidecar:      sc,
		st:           st,
		recentlyDone: recent.NewCompleted(),
		tasks:        make(chan func(), 64),
	}, nil
}

func (d *Driver) submit(fn func()) {
	d.tasks <- fn
}

// Run drains the task queue until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	for {
		select {
		case task := <-d.tasks:
			task()
		case <-ctx.Done():
			return
		}
	}
}

// Serve starts accepting inbound envelopes, serializing them through the
// task queue exactly like Router.Serve.
func (d *Driver) Serve(ctx context.Context) error {
	return d.transport.Serve(ctx, func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		replyCh := make(chan envelope.Envelope, 1)
		d.submit(func() {
			replyCh <- d.handleEnvelope(env)
		})
		return <-replyCh
	})
}

func (d *Driver) persist() {
	blob, err := d.st.encode()
	if err != nil {
		d.log.Error("failed to encode driver state", "err", err)
		return
	}
	if err := d.store.Save(blob); err != nil {
		d.log.Error("failed to persist driver state", "err", err)
	}
}

func (d *Driver) routerAddress() envelope.Address {
	return envelope.Address{Node: d.st.RouterNode, ProcessID: d.st.RouterProcessID}
}
