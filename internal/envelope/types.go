// Package envelope defines the wire shapes exchanged between clients,
// drivers, and the router, and the tagged-union envelope that carries them.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Address identifies a process on a node: the pairing the transport uses to
// deliver a message and the one a ClientRef or DriverNode is built from.
type Address struct {
	Node      string `json:"node"`
	ProcessID string `json:"process_id"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s@%s", a.ProcessID, a.Node)
}

// ClientRef is the addressed origin of a job, carried by the router so the
// final result can be routed back without the client holding a connection
// open.
type ClientRef struct {
	Node      string `json:"node"`
	ProcessID string `json:"process_id"`
}

func (c ClientRef) Address() Address { return Address{Node: c.Node, ProcessID: c.ProcessID} }

// JobSpec is the unit of work. Immutable after creation.
type JobSpec struct {
	Model  string  `json:"model"`
	Prompt string  `json:"prompt"`
	Seed   *uint64 `json:"seed,omitempty"`
}

// Kind discriminates the payload carried by an Envelope. A typed discriminant
// is used in place of a raw byte tag so replies can be routed by switch
// rather than by indexing into a context buffer.
type Kind string

const (
	KindClientRunJob         Kind = "client.run_job"
	KindClientRunJobResult   Kind = "client.run_job.result"
	KindDriverSetIsAvailable Kind = "driver.set_is_available"
	KindDriverAck            Kind = "driver.ack"
	KindRouterRunJob         Kind = "router.run_job"
	KindRouterRunJobResult   Kind = "router.run_job.result"
	KindRouterQueryReady     Kind = "router.query_ready"
	KindRouterQueryReadyReply Kind = "router.query_ready.reply"
	KindJobUpdate            Kind = "to_client.job_update"
	KindJobUpdateAck         Kind = "to_client.job_update.ack"
	KindAdminSetLocalDriver  Kind = "admin.set_local_driver"
	KindAdminSetRouter       Kind = "admin.set_router"
	KindAdminAck             Kind = "admin.ack"
	KindError                Kind = "error"
)

// RunJobBody is the payload of a ClientRequest::RunJob or the re-sent
// driver-to-router RunJob.
type RunJobBody struct {
	Job JobSpec `json:"job"`
}

// RunJobResultBody answers a RunJob with either a JobId or an error string,
// mirroring the source's Result<JobId, string> shape.
type RunJobResultBody struct {
	JobID uint64 `json:"job_id"`
	Error string `json:"error,omitempty"`
}

// SetIsAvailableBody is DriverRequest::SetIsAvailable((bool, modelName)).
type SetIsAvailableBody struct {
	Available bool   `json:"available"`
	Model     string `json:"model"`
}

// RouterRunJobBody is RouterRequest::RunJob((JobId, JobSpec)) — the router
// dispatching a job to a serving driver.
type RouterRunJobBody struct {
	JobID uint64  `json:"job_id"`
	Job   JobSpec `json:"job"`
}

// QueryReadyReplyBody is RouterResponse::QueryReady(bool).
type QueryReadyReplyBody struct {
	Ready bool `json:"ready"`
}

// JobUpdateBody is ToClientRequest::JobUpdate{jobId,isFinal,signature?}; the
// completion text itself travels as the envelope's Blob, not inline, per the
// wire schema's "opaque binary blob for large payloads" rule.
type JobUpdateBody struct {
	JobID     uint64 `json:"job_id"`
	IsFinal   bool   `json:"is_final"`
	Signature []byte `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProbeContext is attached opaquely to every QueryReady send and names the
// (ClientRef, JobId) pair that originated the probe. Drivers do not echo it
// back; the router matches each reply or send failure to its probe through
// the goroutine that made the send.
type ProbeContext struct {
	JobID     uint64    `json:"job_id"`
	ClientRef ClientRef `json:"client_ref"`
}

// Envelope is the self-describing tagged union every role sends and
// receives. Body holds one of the *Body types above, selected by Kind; Blob
// carries large payloads (namely completion text) out of band so they don't
// have to round-trip through JSON string escaping twice.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	From    Address         `json:"from"`
	Body    json.RawMessage `json:"body"`
	Blob    []byte          `json:"blob,omitempty"`
	Context *ProbeContext   `json:"context,omitempty"`
}

// New builds an Envelope with body marshaled to its raw JSON form. Panics
// only if v is not JSON-marshalable, which would indicate a programming
// error in one of the *Body types above, not a runtime condition.
func New(kind Kind, from Address, v interface{}) Envelope {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("envelope: body for %s does not marshal: %v", kind, err))
	}
	return Envelope{Kind: kind, From: from, Body: raw}
}

// Decode unmarshals the envelope's body into v, the typed *Body struct the
// caller expects for this Kind.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Body, v)
}

// ErrorBody is used for Protocol/Authorization rejections that have no
// natural home in one of the typed response bodies above.
type ErrorBody struct {
	Message string `json:"message"`
}

// SetLocalDriverBody is the admin surface's SetLocalDriver verb: configure
// the model this driver serves locally and whether it is advertised to the
// router.
type SetLocalDriverBody struct {
	Model    string `json:"model"`
	IsPublic bool   `json:"is_public"`
}

// SetRouterBody is the admin surface's SetRouter verb: point this driver at
// a (possibly new) router address.
type SetRouterBody struct {
	RouterNode      string `json:"router_node"`
	RouterProcessID string `json:"router_process_id"`
}
