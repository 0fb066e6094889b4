package router

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/llmfed/dispatcher/internal/config"
	"github.com/llmfed/dispatcher/internal/envelope"
	"github.com/llmfed/dispatcher/internal/persistence"
	"github.com/llmfed/dispatcher/internal/transport"
)

func newTestRouter(t *testing.T, fake *transport.Fake) *Router {
	t.Helper()
	cfg := config.NewDefaultRouterConfig()
	cfg.Timeouts.QueueResponseTimeout = 50 * time.Millisecond
	cfg.Timeouts.ServeTimeout = 150 * time.Millisecond
	cfg.Timeouts.DefaultTimeout = 50 * time.Millisecond

	r, err := New(cfg, fake, persistence.NewMemoryStore(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	fake.Register("router", func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		replyCh := make(chan envelope.Envelope, 1)
		r.submit(func() { replyCh <- r.handleEnvelope(env) })
		return <-replyCh
	})
	return r
}

// readyDriver registers a fake driver handler that always answers
// QueryReady(true) and, on RunJob, asynchronously reports a successful
// JobUpdate with completion back to the router.
func readyDriver(t *testing.T, fake *transport.Fake, node, completion string) {
	t.Helper()
	fake.Register(node, func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		switch env.Kind {
		case envelope.KindRouterQueryReady:
			return envelope.New(envelope.KindRouterQueryReadyReply, envelope.Address{Node: node}, envelope.QueryReadyReplyBody{Ready: true})
		case envelope.KindRouterRunJob:
			var body envelope.RouterRunJobBody
			env.Decode(&body)
			go func() {
				update := envelope.New(envelope.KindJobUpdate, envelope.Address{Node: node}, envelope.JobUpdateBody{
					JobID: body.JobID, IsFinal: true,
				})
				update.Blob = []byte(completion)
				fake.Send(context.Background(), envelope.Address{Node: "router"}, update, time.Second)
			}()
			return envelope.New(envelope.KindRouterRunJobResult, envelope.Address{Node: node}, envelope.RunJobResultBody{JobID: body.JobID})
		default:
			return envelope.New(envelope.KindError, envelope.Address{Node: node}, envelope.ErrorBody{Message: "unexpected"})
		}
	})
}

func rejectingDriver(t *testing.T, fake *transport.Fake, node string) {
	t.Helper()
	fake.Register(node, func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		return envelope.New(envelope.KindRouterQueryReadyReply, envelope.Address{Node: node}, envelope.QueryReadyReplyBody{Ready: false})
	})
}

func registerClient(fake *transport.Fake, node string) chan envelope.Envelope {
	updates := make(chan envelope.Envelope, 4)
	fake.Register(node, func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		updates <- env
		return envelope.New(envelope.KindJobUpdateAck, envelope.Address{Node: node}, struct{}{})
	})
	return updates
}

func sendRunJob(t *testing.T, fake *transport.Fake, clientNode, model, prompt string) envelope.RunJobResultBody {
	t.Helper()
	req := envelope.New(envelope.KindClientRunJob, envelope.Address{Node: clientNode, ProcessID: "client"}, envelope.RunJobBody{
		Job: envelope.JobSpec{Model: model, Prompt: prompt},
	})
	reply, err := fake.Send(context.Background(), envelope.Address{Node: "router"}, req, time.Second)
	if err != nil {
		t.Fatalf("RunJob send: %v", err)
	}
	var body envelope.RunJobResultBody
	if err := reply.Decode(&body); err != nil {
		t.Fatalf("RunJob decode: %v", err)
	}
	return body
}

// S1: happy path, single driver already advertising the model.
func TestHappyPathSingleDriver(t *testing.T) {
	fake := transport.NewFake()
	newTestRouter(t, fake)
	readyDriver(t, fake, "driverA", "hello from driverA")
	updates := registerClient(fake, "client1")

	setAvailable(t, fake, "driverA", "llama", true)

	ack := sendRunJob(t, fake, "client1", "llama", "hi")
	if ack.Error != "" {
		t.Fatalf("unexpected ack error: %s", ack.Error)
	}

	select {
	case update := <-updates:
		var body envelope.JobUpdateBody
		update.Decode(&body)
		if !body.IsFinal {
			t.Fatalf("expected final update")
		}
		if string(update.Blob) != "hello from driverA" {
			t.Fatalf("unexpected completion: %q", update.Blob)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for JobUpdate")
	}
}

// S2: job is queued first (no driver yet), then a driver advertises and
// the queued job is drained immediately per the Queue FIFO law.
func TestQueueThenDriverAppears(t *testing.T) {
	fake := transport.NewFake()
	newTestRouter(t, fake)
	updates := registerClient(fake, "client1")

	ack := sendRunJob(t, fake, "client1", "llama", "hi")
	if ack.Error != "" {
		t.Fatalf("unexpected ack error: %s", ack.Error)
	}

	readyDriver(t, fake, "driverA", "queued job result")
	setAvailable(t, fake, "driverA", "llama", true)

	select {
	case update := <-updates:
		var body envelope.JobUpdateBody
		update.Decode(&body)
		if string(update.Blob) != "queued job result" {
			t.Fatalf("unexpected completion: %q", update.Blob)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for JobUpdate")
	}
}

// S3: probe race. Two drivers both host the model; the first to reply
// true wins, and the second's later true reply is silently ignored rather
// than double-dispatching the job.
func TestProbeRaceFirstTrueWins(t *testing.T) {
	fake := transport.NewFake()
	newTestRouter(t, fake)

	fake.DelayReply("driverSlow", 40*time.Millisecond)
	readyDriver(t, fake, "driverFast", "fast result")
	readyDriver(t, fake, "driverSlow", "slow result")

	setAvailable(t, fake, "driverFast", "llama", true)
	setAvailable(t, fake, "driverSlow", "llama", true)

	clientUpdates := registerClient(fake, "client1")
	sendRunJob(t, fake, "client1", "llama", "hi")

	select {
	case update := <-clientUpdates:
		var body envelope.JobUpdateBody
		update.Decode(&body)
		if string(update.Blob) != "fast result" {
			t.Fatalf("expected the faster driver to win, got %q", update.Blob)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for JobUpdate")
	}

	select {
	case extra := <-clientUpdates:
		t.Fatalf("unexpected second JobUpdate: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

// S4: every candidate rejects QueryReady, so the job falls back to the
// FIFO queue.
func TestAllRejectThenQueue(t *testing.T) {
	fake := transport.NewFake()
	r := newTestRouter(t, fake)
	rejectingDriver(t, fake, "driverA")
	setAvailable(t, fake, "driverA", "llama", true)

	sendRunJob(t, fake, "client1", "llama", "hi")

	// Give the probe fan-out time to resolve to a rejection and enqueue.
	time.Sleep(150 * time.Millisecond)

	done := make(chan bool, 1)
	r.submit(func() { done <- len(r.st.JobQueue) == 1 })
	if !<-done {
		t.Fatal("expected job to land in the queue after all candidates rejected")
	}
}

// S5: the serving driver never reports back. The serve-timeout sweep must
// remove it from the availability index, drop the outstanding entry, and
// surface a failed JobUpdate to the client.
func TestServeTimeoutAbandonsJob(t *testing.T) {
	fake := transport.NewFake()
	r := newTestRouter(t, fake)
	fake.Register("driverA", func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		switch env.Kind {
		case envelope.KindRouterQueryReady:
			return envelope.New(envelope.KindRouterQueryReadyReply, envelope.Address{Node: "driverA"}, envelope.QueryReadyReplyBody{Ready: true})
		case envelope.KindRouterRunJob:
			var body envelope.RouterRunJobBody
			env.Decode(&body)
			return envelope.New(envelope.KindRouterRunJobResult, envelope.Address{Node: "driverA"}, envelope.RunJobResultBody{JobID: body.JobID})
		default:
			return envelope.New(envelope.KindError, envelope.Address{Node: "driverA"}, envelope.ErrorBody{})
		}
	})
	updates := registerClient(fake, "client1")
	setAvailable(t, fake, "driverA", "llama", true)

	sendRunJob(t, fake, "client1", "llama", "hi")

	select {
	case update := <-updates:
		var body envelope.JobUpdateBody
		update.Decode(&body)
		if !body.IsFinal || body.Error == "" {
			t.Fatalf("expected a failed final JobUpdate, got %+v", body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for abandoned-job JobUpdate")
	}

	done := make(chan bool, 1)
	r.submit(func() {
		_, stillAvailable := r.st.AvailableDrivers["driverA"]
		_, stillOutstanding := r.st.OutstandingJobs["driverA"]
		done <- !stillAvailable && !stillOutstanding
	})
	if !<-done {
		t.Fatal("expected driverA removed from both the index and outstanding jobs")
	}
}

// setAvailable drives a driver's SetIsAvailable(true) through the router,
// exactly as a driver process would on startup or after finishing a job.
func setAvailable(t *testing.T, fake *transport.Fake, driverNode, model string, available bool) {
	t.Helper()
	req := envelope.New(envelope.KindDriverSetIsAvailable, envelope.Address{Node: driverNode}, envelope.SetIsAvailableBody{
		Available: available,
		Model:     model,
	})
	if _, err := fake.Send(context.Background(), envelope.Address{Node: "router"}, req, time.Second); err != nil {
		t.Fatalf("SetIsAvailable send: %v", err)
	}
}
