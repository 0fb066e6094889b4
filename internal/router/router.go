// Package router implements the federation-wide dispatcher: the
// availability index, job queue, and in-flight probe state, plus the
// dispatch algorithm and abandoned-job recovery described by the component
// design.
package router

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/llmfed/dispatcher/internal/config"
	"github.com/llmfed/dispatcher/internal/envelope"
	"github.com/llmfed/dispatcher/internal/idgen"
	"github.com/llmfed/dispatcher/internal/persistence"
	"github.com/llmfed/dispatcher/internal/recent"
	"github.com/llmfed/dispatcher/internal/transport"
)

// Router owns all router-side state and is the only thing that mutates it.
// State mutation happens exclusively on the goroutine running Run, which
// drains tasks — a queue of closures submitted by inbound-envelope handlers
// and by the background serve-timeout sweeper. This generalizes the
// teacher's channel-routed response pattern (one shared channel, one
// consumer goroutine, many concurrent producers) from "route a driver reply
// to its waiting ride" to "serialize every router state mutation through
// one loop."
type Router struct {
	cfg       *config.RouterConfig
	self      envelope.Address
	transport transport.Transport
	store     persistence.Store
	log       hclog.Logger
	rng       *idgen.Source

	st           *state
	jobStates    map[uint64]*JobState
	timeouts     *serveTimeoutTracker
	recentlyDone *recent.Completed

	// probeFailures accumulates the per-candidate decline/error reasons for
	// an in-flight probe fan-out, purely for diagnostics — never persisted,
	// never consulted for a dispatch decision.
	probeFailures map[uint64]*multierror.Error

	tasks chan func()
}

// New constructs a Router. The caller still needs to call Run to start the
// message loop and Serve to start accepting envelopes.
func New(cfg *config.RouterConfig, tr transport.Transport, store persistence.Store, log hclog.Logger) (*Router, error) {
	blob, err := store.Load()
	if err != nil {
		return nil, err
	}
	st, err := decodeState(blob)
	if err != nil {
		return nil, err
	}
	if st.DriverProcessID == "" {
		st.DriverProcessID = "driver:llmfed"
	}

	var rng *idgen.Source
	if st.RNGState == (idgen.State{}) {
		rng = idgen.NewFromEntropy()
	} else {
		rng = idgen.NewFromState(st.RNGState)
	}

	r := &Router{
		cfg:           cfg,
		self:          envelope.Address{Node: "router", ProcessID: cfg.ProcessID},
		transport:     tr,
		store:         store,
		log:           log,
		rng:           rng,
		st:            st,
		jobStates:     make(map[uint64]*JobState),
		recentlyDone:  recent.NewCompleted(),
		probeFailures: make(map[uint64]*multierror.Error),
		tasks:         make(chan func(), 256),
	}
	for jobID, phase := range st.JobPhases {
		r.jobStates[jobID] = newJobState(phase)
	}
	r.timeouts = newServeTimeoutTracker(func(driverNode string) {
		r.submit(func() { r.abandon(driverNode, "serve timeout") })
	})
	return r, nil
}

// submit enqueues a state-mutating closure to run on the loop goroutine. Any
// goroutine may call submit; only Run ever reads from tasks.
func (r *Router) submit(fn func()) {
	r.tasks <- fn
}

// Run drains the task queue until ctx is cancelled. It must be started
// before Serve so inbound envelopes have somewhere to be processed.
func (r *Router) Run(ctx context.Context) {
	defer r.timeouts.Stop()
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-ctx.Done():
			return
		}
	}
}

// Serve starts accepting inbound envelopes over tr, handing each to
// handleEnvelope via the task queue so processing is serialized with every
// other router state mutation.
func (r *Router) Serve(ctx context.Context) error {
	return r.transport.Serve(ctx, func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		replyCh := make(chan envelope.Envelope, 1)
		r.submit(func() {
			replyCh <- r.handleEnvelope(env)
		})
		return <-replyCh
	})
}

func (r *Router) persist() {
	r.st.RNGState = r.rng.State()
	blob, err := r.st.encode()
	if err != nil {
		r.log.Error("failed to encode router state", "err", err)
		return
	}
	if err := r.store.Save(blob); err != nil {
		r.log.Error("failed to persist router state", "err", err)
	}
}
