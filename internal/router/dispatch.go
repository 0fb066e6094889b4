package router

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"

	"github.com/llmfed/dispatcher/internal/envelope"
)

// candidatesFor returns every driver node currently advertising model,
// as a set.Set so duplicate callers of this candidate list can't
// accidentally double-count a node — mirrors how Nomad tracks node
// candidacy during scheduling.
func (r *Router) candidatesFor(model string) *set.Set[string] {
	candidates := set.New[string](len(r.st.AvailableDrivers))
	for driverNode, m := range r.st.AvailableDrivers {
		if m == model {
			candidates.Insert(driverNode)
		}
	}
	return candidates
}

// runJob implements the dispatch algorithm's steps 2-4. The synchronous
// Ok(jobId) ack has already been produced by the caller (handleClientRunJob)
// by the time this runs; this only decides queue-vs-probe and, in the probe
// case, fires off the concurrent fan-out.
func (r *Router) runJob(jobID uint64, clientRef envelope.ClientRef, job envelope.JobSpec) {
	candidates := r.candidatesFor(job.Model)
	if candidates.Size() == 0 {
		r.enqueue(jobID, clientRef, job)
		return
	}

	probe := &jobProbe{
		Job:        job,
		ClientRef:  clientRef,
		NumQueried: uint32(candidates.Size()),
	}
	r.st.JobProbes[jobID] = probe
	r.setPhase(jobID, PhaseProbing)
	r.persist()

	order := r.rng.Shuffle(candidates.Size())
	nodes := candidates.Slice()
	for _, idx := range order {
		driverNode := nodes[idx]
		go r.sendProbe(jobID, clientRef, driverNode)
	}
}

// sendProbe issues one QueryReady to driverNode and posts the outcome back
// onto the router's task queue so state is mutated only by the single loop
// goroutine — the fan-out itself runs concurrently across goroutines (one
// blocking Send each), same as the teacher's per-candidate notify-and-wait
// goroutines, generalized from "try next on decline" to "race all replies."
func (r *Router) sendProbe(jobID uint64, clientRef envelope.ClientRef, driverNode string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeouts.QueueResponseTimeout)
	defer cancel()

	req := envelope.New(envelope.KindRouterQueryReady, r.self, struct{}{})
	req.Context = &envelope.ProbeContext{JobID: jobID, ClientRef: clientRef}

	reply, err := r.transport.Send(ctx, envelope.Address{Node: driverNode, ProcessID: r.st.DriverProcessID}, req, r.cfg.Timeouts.QueueResponseTimeout)

	ready := false
	var probeErr error
	if err != nil {
		probeErr = fmt.Errorf("%s: %w", driverNode, err)
	} else {
		var body envelope.QueryReadyReplyBody
		if decErr := reply.Decode(&body); decErr != nil {
			probeErr = fmt.Errorf("%s: malformed QueryReady reply: %w", driverNode, decErr)
		} else {
			ready = body.Ready
		}
	}

	r.submit(func() {
		r.handleProbeReply(jobID, driverNode, ready, probeErr)
	})
}

// handleProbeReply implements "on QueryReady reply" from the dispatch
// algorithm. It runs only on the task-queue loop goroutine. Non-ready
// replies (rejections, timeouts, malformed replies) accumulate into a
// multierror so that if every candidate ultimately declines, the router
// can log one aggregated diagnostic instead of N separate lines.
func (r *Router) handleProbeReply(jobID uint64, driverNode string, ready bool, probeErr error) {
	probe, ok := r.st.JobProbes[jobID]
	if !ok {
		// Job already placed (dispatched or queued) by an earlier reply;
		// late replies are silently ignored per the probe-race property.
		return
	}

	if ready && probeErr == nil {
		delete(r.st.JobProbes, jobID)
		delete(r.probeFailures, jobID)
		r.serveJob(driverNode, probe.ClientRef, jobID, probe.Job)
		return
	}

	if probeErr != nil {
		r.probeFailures[jobID] = multierror.Append(r.probeFailures[jobID], probeErr)
	} else {
		r.probeFailures[jobID] = multierror.Append(r.probeFailures[jobID], fmt.Errorf("%s: declined", driverNode))
	}

	probe.NumRejections++
	if probe.NumRejections >= probe.NumQueried {
		delete(r.st.JobProbes, jobID)
		if agg := r.probeFailures[jobID]; agg != nil {
			r.log.Warn("no candidate accepted job, falling back to queue", "job_id", jobID, "err", agg.ErrorOrNil())
		}
		delete(r.probeFailures, jobID)
		r.enqueue(jobID, probe.ClientRef, probe.Job)
	}
}

// serveJob dispatches job to driverNode: removes it from the availability
// index, records the outstanding entry, and sends the actual RunJob. The
// driver's ack to this send is just a fast "accepted the dispatch" signal,
// sent synchronously here (a single send, unlike the probe fan-out, needs
// no concurrency); the real completion arrives later as an independent
// JobUpdate request, so the serve-timeout deadline is tracked separately by
// serveTimeoutTracker, not by this send's own timeout.
func (r *Router) serveJob(driverNode string, clientRef envelope.ClientRef, jobID uint64, job envelope.JobSpec) {
	delete(r.st.AvailableDrivers, driverNode)
	r.st.OutstandingJobs[driverNode] = outstandingJob{ClientRef: clientRef, JobID: jobID}
	r.setPhase(jobID, PhaseDispatched)
	r.persist()

	r.timeouts.track(driverNode, r.cfg.Timeouts.ServeTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeouts.DefaultTimeout)
	defer cancel()

	req := envelope.New(envelope.KindRouterRunJob, r.self, envelope.RouterRunJobBody{JobID: jobID, Job: job})
	_, err := r.transport.Send(ctx, envelope.Address{Node: driverNode, ProcessID: r.st.DriverProcessID}, req, r.cfg.Timeouts.DefaultTimeout)
	if err != nil {
		r.abandon(driverNode, "dispatch send failure")
	}
}

// enqueue pushes a job to the back of the FIFO queue.
func (r *Router) enqueue(jobID uint64, clientRef envelope.ClientRef, job envelope.JobSpec) {
	r.st.JobQueue = append(r.st.JobQueue, queueEntry{ClientRef: clientRef, JobID: jobID, Job: job})
	r.setPhase(jobID, PhaseQueued)
	r.persist()
}

// dequeueFor pops the oldest queue entry whose model matches, preserving
// FIFO order among same-model entries (the Queue FIFO law).
func (r *Router) dequeueFor(model string) (queueEntry, bool) {
	for i, entry := range r.st.JobQueue {
		if entry.Job.Model == model {
			r.st.JobQueue = append(r.st.JobQueue[:i], r.st.JobQueue[i+1:]...)
			return entry, true
		}
	}
	return queueEntry{}, false
}

// abandon implements the abandoned-job recovery path: remove the driver
// from the index, remove its outstanding entry, and surface a failed
// JobUpdate to the client. Triggered either by the serve-timeout sweep or
// by an immediate dispatch-send failure.
func (r *Router) abandon(driverNode string, reason string) {
	job, ok := r.st.OutstandingJobs[driverNode]
	if !ok {
		return
	}
	delete(r.st.OutstandingJobs, driverNode)
	delete(r.st.AvailableDrivers, driverNode)
	r.timeouts.untrack(driverNode)
	r.setPhase(job.JobID, PhaseAbandoned)
	r.recentlyDone.Mark(job.JobID)
	r.persist()

	r.log.Warn("abandoning job", "job_id", job.JobID, "driver", driverNode, "reason", reason)

	r.relayFailure(job.ClientRef, job.JobID, reason)
}

func (r *Router) relayFailure(clientRef envelope.ClientRef, jobID uint64, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeouts.DefaultTimeout)
	defer cancel()

	req := envelope.New(envelope.KindJobUpdate, r.self, envelope.JobUpdateBody{
		JobID:   jobID,
		IsFinal: true,
		Error:   reason,
	})
	if _, err := r.transport.Send(ctx, clientRef.Address(), req, r.cfg.Timeouts.DefaultTimeout); err != nil {
		r.log.Warn("failed to relay abandoned-job update to client", "job_id", jobID, "client", clientRef.Address().String(), "err", err)
	}
}

// setPhase transitions a job's observable phase, logging (but not failing)
// any invalid transition — those would indicate a router bug, not a
// recoverable runtime condition.
func (r *Router) setPhase(jobID uint64, next Phase) {
	js, ok := r.jobStates[jobID]
	if !ok {
		js = newJobState(next)
		r.jobStates[jobID] = js
		r.st.JobPhases[jobID] = next
		return
	}
	if err := js.TransitionTo(next); err != nil {
		r.log.Error("invalid job phase transition", "job_id", jobID, "err", err)
		js.Phase = next
	}
	r.st.JobPhases[jobID] = next
}
