package router

import (
	"context"

	"github.com/llmfed/dispatcher/internal/envelope"
)

// handleEnvelope is the single entry point for every inbound envelope. It
// always runs on the loop goroutine (see Router.Serve), so everything below
// it can touch r.st without locking.
func (r *Router) handleEnvelope(env envelope.Envelope) envelope.Envelope {
	switch env.Kind {
	case envelope.KindClientRunJob:
		return r.handleRunJob(env)
	case envelope.KindDriverSetIsAvailable:
		return r.handleSetIsAvailable(env)
	case envelope.KindJobUpdate:
		return r.handleJobUpdate(env)
	default:
		r.log.Warn("rejecting unknown envelope kind", "kind", env.Kind, "from", env.From.String())
		return envelope.New(envelope.KindError, r.self, envelope.ErrorBody{
			Message: "unknown envelope kind: " + string(env.Kind),
		})
	}
}

// handleRunJob is RunJob(JobSpec) from a (client) driver: generate jobId,
// ack synchronously, then run the dispatch algorithm.
func (r *Router) handleRunJob(env envelope.Envelope) envelope.Envelope {
	var body envelope.RunJobBody
	if err := env.Decode(&body); err != nil {
		return r.errorReply("malformed RunJob: " + err.Error())
	}

	jobID := r.freshJobID()
	clientRef := envelope.ClientRef{Node: env.From.Node, ProcessID: env.From.ProcessID}

	reply := envelope.New(envelope.KindClientRunJobResult, r.self, envelope.RunJobResultBody{JobID: jobID})

	// runJob (queue-or-probe) happens after the ack is already built, so a
	// crash or a slow probe fan-out never delays the client's handle on its
	// job id — the spec requires Ok(jobId) be synchronous even when the job
	// ends up queued.
	r.runJob(jobID, clientRef, body.Job)

	return reply
}

// freshJobID draws a JobId from the PRNG, re-drawing on the astronomically
// unlikely event of a collision with any job id this router has a phase
// recorded for (live or finished). More than a handful of consecutive
// collisions indicates the
// PRNG itself is broken, which the data model calls a fatal programming
// error.
func (r *Router) freshJobID() uint64 {
	for attempt := 0; attempt < 8; attempt++ {
		candidate := r.rng.JobID()
		if _, live := r.jobStates[candidate]; !live {
			return candidate
		}
	}
	panic("router: JobId PRNG produced 8 consecutive collisions against known jobs")
}

// handleSetIsAvailable is SetIsAvailable(bool, model) from a driver.
func (r *Router) handleSetIsAvailable(env envelope.Envelope) envelope.Envelope {
	var body envelope.SetIsAvailableBody
	if err := env.Decode(&body); err != nil {
		return r.errorReply("malformed SetIsAvailable: " + err.Error())
	}
	driverNode := env.From.Node

	if !body.Available {
		delete(r.st.AvailableDrivers, driverNode)
		r.persist()
		return envelope.New(envelope.KindDriverAck, r.self, struct{}{})
	}

	if entry, ok := r.dequeueFor(body.Model); ok {
		r.serveJob(driverNode, entry.ClientRef, entry.JobID, entry.Job)
		return envelope.New(envelope.KindDriverAck, r.self, struct{}{})
	}

	r.st.AvailableDrivers[driverNode] = body.Model
	r.persist()
	return envelope.New(envelope.KindDriverAck, r.self, struct{}{})
}

// handleJobUpdate is the serving driver reporting a result (final or not)
// for its outstanding job. It looks up the outstanding entry by the sending
// driver's node, forwards the update to the originating client driver, and
// on isFinal clears the outstanding entry. The driver is not re-added to the
// availability index here; it re-enters it when it next sends
// SetIsAvailable(true).
func (r *Router) handleJobUpdate(env envelope.Envelope) envelope.Envelope {
	var body envelope.JobUpdateBody
	if err := env.Decode(&body); err != nil {
		return r.errorReply("malformed JobUpdate: " + err.Error())
	}
	driverNode := env.From.Node

	job, ok := r.st.OutstandingJobs[driverNode]
	if !ok {
		if r.recentlyDone.Contains(body.JobID) {
			r.log.Warn("stray JobUpdate for a job that already finished", "driver", driverNode, "job_id", body.JobID)
		} else {
			r.log.Warn("stray JobUpdate for an unknown job", "driver", driverNode, "job_id", body.JobID)
		}
		return r.errorReply("stray JobUpdate: no outstanding job for this driver")
	}

	jobID := job.JobID
	if body.JobID != jobID {
		// Defensive per the spec: log and proceed using the driver's claim.
		r.log.Warn("JobUpdate job id mismatch, proceeding with driver's claim",
			"expected", jobID, "claimed", body.JobID, "driver", driverNode)
		jobID = body.JobID
	}

	forward := envelope.New(envelope.KindJobUpdate, r.self, envelope.JobUpdateBody{
		JobID:     jobID,
		IsFinal:   body.IsFinal,
		Signature: body.Signature,
		Error:     body.Error,
	})
	forward.Blob = env.Blob
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeouts.DefaultTimeout)
	defer cancel()
	if _, err := r.transport.Send(ctx, job.ClientRef.Address(), forward, r.cfg.Timeouts.DefaultTimeout); err != nil {
		r.log.Warn("failed to relay JobUpdate to client", "job_id", jobID, "err", err)
	}

	if body.IsFinal {
		delete(r.st.OutstandingJobs, driverNode)
		r.timeouts.untrack(driverNode)
		r.setPhase(jobID, PhaseDone)
		r.recentlyDone.Mark(jobID)
		r.persist()
	}

	return envelope.New(envelope.KindJobUpdateAck, r.self, struct{}{})
}

func (r *Router) errorReply(msg string) envelope.Envelope {
	return envelope.New(envelope.KindError, r.self, envelope.ErrorBody{Message: msg})
}
