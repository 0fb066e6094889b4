package transport

import (
	"context"
	"sync"
	"time"

	"github.com/llmfed/dispatcher/internal/envelope"
)

// Fake is an in-process Transport backed by a registry of handlers keyed by
// node address, so router/driver scenario tests can run deterministically
// with no sockets involved. Network partitions are simulated via Drop and
// slow peers via DelayReply; delays and send timeouts use real elapsed time.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	dropped  map[string]bool
	delay    map[string]time.Duration
}

func NewFake() *Fake {
	return &Fake{
		handlers: make(map[string]Handler),
		dropped:  make(map[string]bool),
		delay:    make(map[string]time.Duration),
	}
}

// Register attaches a handler to a node address, standing in for that
// node's running process.
func (f *Fake) Register(node string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[node] = h
}

// Drop makes every send to node fail as a send-failure, simulating an
// offline or crashed peer.
func (f *Fake) Drop(node string, dropped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped[node] = dropped
}

// DelayReply makes every send to node block for d before the handler's
// reply is returned, used to order competing replies (the probe-race test)
// or, with a delay longer than the send timeout, to make a send time out.
func (f *Fake) DelayReply(node string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[node] = d
}

func (f *Fake) Send(ctx context.Context, to envelope.Address, env envelope.Envelope, timeout time.Duration) (envelope.Envelope, error) {
	f.mu.Lock()
	handler, ok := f.handlers[to.Node]
	dropped := f.dropped[to.Node]
	delay := f.delay[to.Node]
	f.mu.Unlock()

	if !ok || dropped {
		return envelope.Envelope{}, ErrSendFailure
	}

	replyCh := make(chan envelope.Envelope, 1)
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		replyCh <- handler(ctx, env)
	}()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(timeout):
		return envelope.Envelope{}, ErrSendFailure
	}
}

func (f *Fake) Serve(ctx context.Context, handler Handler) error {
	<-ctx.Done()
	return nil
}
