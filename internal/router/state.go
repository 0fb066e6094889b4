package router

import (
	"encoding/json"

	"github.com/llmfed/dispatcher/internal/envelope"
	"github.com/llmfed/dispatcher/internal/idgen"
)

// outstandingJob is the router-side record of a job dispatched to a driver:
// at most one per driver at any time.
type outstandingJob struct {
	ClientRef envelope.ClientRef `json:"client_ref"`
	JobID     uint64             `json:"job_id"`
}

// queueEntry is a job waiting for a driver to advertise its model, drained
// FIFO.
type queueEntry struct {
	ClientRef envelope.ClientRef `json:"client_ref"`
	JobID     uint64             `json:"job_id"`
	Job       envelope.JobSpec   `json:"job"`
}

// jobProbe is the bookkeeping for one in-flight readiness sweep.
type jobProbe struct {
	Job           envelope.JobSpec   `json:"job"`
	ClientRef     envelope.ClientRef `json:"client_ref"`
	NumQueried    uint32             `json:"num_queried"`
	NumRejections uint32             `json:"num_rejections"`
}

// state is the router's persisted, single-owner data. It is mutated only by
// the task-queue loop goroutine in Router, so it carries no locks of its
// own — the single-threaded message-loop model makes that safe, the same
// way the source's per-process state is a plain value owned by its event
// loop.
type state struct {
	DriverProcessID  string                     `json:"driver_process_id,omitempty"`
	AvailableDrivers map[string]string          `json:"available_drivers"` // driverNode -> model
	OutstandingJobs  map[string]outstandingJob  `json:"outstanding_jobs"`  // driverNode -> job
	JobQueue         []queueEntry               `json:"job_queue"`
	JobProbes        map[uint64]*jobProbe       `json:"job_probes"`
	JobPhases        map[uint64]Phase           `json:"job_phases"`
	RNGState         idgen.State                `json:"rng_state"`
}

func newState() *state {
	return &state{
		AvailableDrivers: make(map[string]string),
		OutstandingJobs:  make(map[string]outstandingJob),
		JobQueue:         nil,
		JobProbes:        make(map[uint64]*jobProbe),
		JobPhases:        make(map[uint64]Phase),
	}
}

func (s *state) encode() ([]byte, error) {
	return json.Marshal(s)
}

func decodeState(blob []byte) (*state, error) {
	s := newState()
	if len(blob) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(blob, s); err != nil {
		return nil, err
	}
	if s.AvailableDrivers == nil {
		s.AvailableDrivers = make(map[string]string)
	}
	if s.OutstandingJobs == nil {
		s.OutstandingJobs = make(map[string]outstandingJob)
	}
	if s.JobProbes == nil {
		s.JobProbes = make(map[uint64]*jobProbe)
	}
	if s.JobPhases == nil {
		s.JobPhases = make(map[uint64]Phase)
	}
	return s, nil
}
