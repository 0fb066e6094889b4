package driver

import (
	"context"

	"github.com/llmfed/dispatcher/internal/envelope"
	"github.com/llmfed/dispatcher/internal/sidecar"
)

// handleEnvelope is the driver's single entry point, always run on the loop
// goroutine via Driver.Serve.
func (d *Driver) handleEnvelope(env envelope.Envelope) envelope.Envelope {
	switch env.Kind {
	case envelope.KindClientRunJob:
		return d.handleClientRunJob(env)
	case envelope.KindRouterRunJob:
		return d.handleRouterRunJob(env)
	case envelope.KindRouterQueryReady:
		return d.handleQueryReady(env)
	case envelope.KindJobUpdate:
		return d.handleJobUpdate(env)
	case envelope.KindAdminSetLocalDriver:
		return d.handleSetLocalDriver(env)
	case envelope.KindAdminSetRouter:
		return d.handleSetRouter(env)
	default:
		d.log.Warn("rejecting unknown envelope kind", "kind", env.Kind, "from", env.From.String())
		return d.errorReply("unknown envelope kind: " + string(env.Kind))
	}
}

// handleClientRunJob is a local client's RunJob. Authorization requires the
// sender be this same node — a client talks only to its own local driver,
// never to a remote one directly.
func (d *Driver) handleClientRunJob(env envelope.Envelope) envelope.Envelope {
	if env.From.Node != d.self.Node {
		d.log.Warn("rejecting ClientRunJob from foreign node", "from", env.From.Node)
		return d.errorReply("rejecting client RunJob from " + env.From.Node)
	}
	var body envelope.RunJobBody
	if err := env.Decode(&body); err != nil {
		return d.errorReply("malformed RunJob: " + err.Error())
	}

	// Per the open question accepted in the design notes, the driver always
	// acks the client with jobId=0 regardless of whether a real router job
	// id will later exist — at most one job is outstanding per driver, so
	// the zero id is unambiguous to the one client waiting on it.
	ack := envelope.New(envelope.KindClientRunJobResult, d.self, envelope.RunJobResultBody{JobID: 0})

	if d.st.LocalDriver != nil {
		clientRef := envelope.ClientRef{Node: env.From.Node, ProcessID: env.From.ProcessID}
		d.st.Outstanding = &clientRef
		d.st.Busy = true
		d.persist()
		go d.serveLocally(clientRef, body.Job)
		return ack
	}

	clientRef := envelope.ClientRef{Node: env.From.Node, ProcessID: env.From.ProcessID}
	d.st.Outstanding = &clientRef
	d.st.Busy = true
	d.persist()
	go d.forwardToRouter(body.Job)

	return ack
}

// serveLocally runs the job through this node's own sidecar and reports the
// result back to the waiting client as a synthetic JobUpdate(jobId=0,
// isFinal=true), mirroring what the router would have sent had this gone
// through dispatch.
func (d *Driver) serveLocally(clientRef envelope.ClientRef, job envelope.JobSpec) {
	completion, sidecarErr := d.runSidecar(job)
	d.submit(func() {
		d.finishOutstanding(clientRef, 0, completion, sidecarErr)
	})
}

// forwardToRouter re-sends the job to the router per the non-local-driver
// RunJob flow; the router's own Ok(jobId) ack is discarded here (the client
// already has its jobId=0 ack) and the eventual JobUpdate arrives later as
// an independent request handled by handleJobUpdate.
func (d *Driver) forwardToRouter(job envelope.JobSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeouts.DefaultTimeout)
	defer cancel()

	req := envelope.New(envelope.KindClientRunJob, d.self, envelope.RunJobBody{Job: job})
	if _, err := d.transport.Send(ctx, d.routerAddress(), req, d.cfg.Timeouts.DefaultTimeout); err != nil {
		d.log.Warn("failed to forward RunJob to router", "err", err)
		d.submit(func() {
			d.finishOutstanding(*d.st.Outstanding, 0, "", err)
		})
	}
}

// finishOutstanding relays a completion or failure to the local client
// waiting on Outstanding and clears the busy/outstanding bookkeeping. Used
// both by the purely-local serving path and, indirectly, by a forwarding
// failure that never makes it as far as the router.
func (d *Driver) finishOutstanding(clientRef envelope.ClientRef, jobID uint64, completion string, err error) {
	body := envelope.JobUpdateBody{JobID: jobID, IsFinal: true}
	if err != nil {
		body.Error = err.Error()
	}
	update := envelope.New(envelope.KindJobUpdate, d.self, body)
	update.Blob = []byte(completion)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeouts.DefaultTimeout)
	defer cancel()
	if _, sendErr := d.transport.Send(ctx, clientRef.Address(), update, d.cfg.Timeouts.DefaultTimeout); sendErr != nil {
		d.log.Warn("failed to relay JobUpdate to local client", "err", sendErr)
	}

	d.st.Outstanding = nil
	d.st.Busy = false
	d.persist()
}

// handleRouterRunJob is the serving path: the router dispatched a job to
// this node because it advertised the model. Authorization requires the
// sender be the configured router node (scenario: wrong-source-rejection).
func (d *Driver) handleRouterRunJob(env envelope.Envelope) envelope.Envelope {
	if env.From.Node != d.st.RouterNode {
		d.log.Warn("rejecting RouterRequest from foreign node", "from", env.From.Node)
		return d.errorReply("rejecting RouterRequest from " + env.From.Node)
	}
	if d.st.LocalDriver == nil || !d.st.LocalDriver.IsPublic {
		return d.errorReply("this driver is not currently serving")
	}
	var body envelope.RouterRunJobBody
	if err := env.Decode(&body); err != nil {
		return d.errorReply("malformed RunJob: " + err.Error())
	}

	ack := envelope.New(envelope.KindRouterRunJobResult, d.self, envelope.RunJobResultBody{JobID: body.JobID})

	d.st.Busy = true
	d.persist()
	go d.serveForRouter(body.JobID, body.Job)

	return ack
}

// serveForRouter runs the dispatched job through the sidecar, reports the
// final JobUpdate back to the router, clears Busy, and — if this node is
// still configured public — re-advertises availability exactly as it would
// on first SetLocalDriver, so the router can dispatch to it again.
func (d *Driver) serveForRouter(jobID uint64, job envelope.JobSpec) {
	completion, sidecarErr := d.runSidecar(job)

	body := envelope.JobUpdateBody{JobID: jobID, IsFinal: true}
	if sidecarErr != nil {
		body.Error = sidecarErr.Error()
	}
	update := envelope.New(envelope.KindJobUpdate, d.self, body)
	update.Blob = []byte(completion)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeouts.DefaultTimeout)
	defer cancel()
	if _, err := d.transport.Send(ctx, d.routerAddress(), update, d.cfg.Timeouts.DefaultTimeout); err != nil {
		d.log.Warn("failed to report JobUpdate to router", "job_id", jobID, "err", err)
	}

	d.submit(func() {
		d.st.Busy = false
		d.persist()
		if d.st.LocalDriver != nil && d.st.LocalDriver.IsPublic {
			d.reassertAvailable()
		}
	})
}

// runSidecar dispatches job to this node's configured sidecar adapter. A
// missing adapter is itself a typed sidecar.Error so the caller's error
// handling path is uniform.
func (d *Driver) runSidecar(job envelope.JobSpec) (string, error) {
	if d.st.LocalDriver == nil || d.sidecar == nil {
		return "", &sidecar.Error{Kind: sidecar.KindUpstream, Message: "no sidecar adapter configured for this node"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.sidecar.Timeout())
	defer cancel()
	return d.sidecar.Chat(ctx, sidecar.ChatRequest{
		APIKey: d.cfg.SidecarAPIKey,
		Model:  job.Model,
		Prompt: job.Prompt,
		Seed:   job.Seed,
	})
}

// handleQueryReady answers the router's readiness probe: ready iff this
// driver is public and not already busy with another job.
func (d *Driver) handleQueryReady(env envelope.Envelope) envelope.Envelope {
	if env.From.Node != d.st.RouterNode {
		d.log.Warn("rejecting RouterRequest from foreign node", "from", env.From.Node)
		return d.errorReply("rejecting RouterRequest from " + env.From.Node)
	}
	ready := d.st.LocalDriver != nil && d.st.LocalDriver.IsPublic && !d.st.Busy
	return envelope.New(envelope.KindRouterQueryReadyReply, d.self, envelope.QueryReadyReplyBody{Ready: ready})
}

// handleJobUpdate is this driver receiving the router's relay of a result
// meant for a local client this driver forwarded a job on behalf of.
func (d *Driver) handleJobUpdate(env envelope.Envelope) envelope.Envelope {
	if env.From.Node != d.st.RouterNode {
		d.log.Warn("rejecting RouterRequest from foreign node", "from", env.From.Node)
		return d.errorReply("rejecting RouterRequest from " + env.From.Node)
	}
	var body envelope.JobUpdateBody
	if err := env.Decode(&body); err != nil {
		return d.errorReply("malformed JobUpdate: " + err.Error())
	}
	if d.st.Outstanding == nil {
		if d.recentlyDone.Contains(body.JobID) {
			d.log.Warn("stray JobUpdate for a job that already finished", "job_id", body.JobID)
		} else {
			d.log.Warn("stray JobUpdate with no outstanding local client", "job_id", body.JobID)
		}
		return d.errorReply("stray JobUpdate: no outstanding local client")
	}

	forward := envelope.New(envelope.KindJobUpdate, d.self, body)
	forward.Blob = env.Blob

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeouts.DefaultTimeout)
	defer cancel()
	if _, err := d.transport.Send(ctx, d.st.Outstanding.Address(), forward, d.cfg.Timeouts.DefaultTimeout); err != nil {
		d.log.Warn("failed to relay JobUpdate to local client", "err", err)
	}

	if body.IsFinal {
		d.st.Outstanding = nil
		d.st.Busy = false
		d.recentlyDone.Mark(body.JobID)
		d.persist()
	}

	return envelope.New(envelope.KindJobUpdateAck, d.self, struct{}{})
}

// handleSetLocalDriver is the admin op that configures this node to serve a
// model. If isPublic, the router is told immediately so it can start
// dispatching to this node. The admin surface reaches the driver over the
// same transport as every other role, so this runs on the loop goroutine
// like any other handler.
func (d *Driver) handleSetLocalDriver(env envelope.Envelope) envelope.Envelope {
	var body envelope.SetLocalDriverBody
	if err := env.Decode(&body); err != nil {
		return d.errorReply("malformed SetLocalDriver: " + err.Error())
	}
	d.st.LocalDriver = &localDriverConfig{Model: body.Model, IsPublic: body.IsPublic}
	d.persist()

	var err error
	if body.IsPublic {
		err = d.reassertAvailable()
	} else {
		err = d.sendUnavailable(body.Model)
	}
	if err != nil {
		d.log.Warn("failed to notify router of local driver change", "err", err)
	}
	return envelope.New(envelope.KindAdminAck, d.self, struct{}{})
}

// handleSetRouter is the admin op that (re)points this driver at a router.
// If currently serving publicly, availability is re-asserted against the
// newly configured router.
func (d *Driver) handleSetRouter(env envelope.Envelope) envelope.Envelope {
	var body envelope.SetRouterBody
	if err := env.Decode(&body); err != nil {
		return d.errorReply("malformed SetRouter: " + err.Error())
	}
	d.st.RouterNode = body.RouterNode
	d.st.RouterProcessID = body.RouterProcessID
	d.persist()

	if d.st.LocalDriver != nil && d.st.LocalDriver.IsPublic {
		if err := d.reassertAvailable(); err != nil {
			d.log.Warn("failed to reassert availability after SetRouter", "err", err)
		}
	}
	return envelope.New(envelope.KindAdminAck, d.self, struct{}{})
}

func (d *Driver) reassertAvailable() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeouts.DefaultTimeout)
	defer cancel()
	req := envelope.New(envelope.KindDriverSetIsAvailable, d.self, envelope.SetIsAvailableBody{
		Available: true,
		Model:     d.st.LocalDriver.Model,
	})
	_, err := d.transport.Send(ctx, d.routerAddress(), req, d.cfg.Timeouts.DefaultTimeout)
	return err
}

func (d *Driver) sendUnavailable(model string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeouts.DefaultTimeout)
	defer cancel()
	req := envelope.New(envelope.KindDriverSetIsAvailable, d.self, envelope.SetIsAvailableBody{
		Available: false,
		Model:     model,
	})
	_, err := d.transport.Send(ctx, d.routerAddress(), req, d.cfg.Timeouts.DefaultTimeout)
	return err
}

func (d *Driver) errorReply(msg string) envelope.Envelope {
	return envelope.New(envelope.KindError, d.self, envelope.ErrorBody{Message: msg})
}
