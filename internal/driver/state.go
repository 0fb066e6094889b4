package driver

import (
	"encoding/json"

	"github.com/llmfed/dispatcher/internal/envelope"
)

// localDriverConfig mirrors the data model's LocalDriverConfig: presence
// means this node can serve; IsPublic means it should be advertised to the
// router.
type localDriverConfig struct {
	Model    string `json:"model"`
	IsPublic bool   `json:"is_public"`
}

// state is the driver's persisted, single-owner data, mutated only on the
// loop goroutine.
type state struct {
	RouterNode      string             `json:"router_node,omitempty"`
	RouterProcessID string             `json:"router_process_id,omitempty"`
	LocalDriver     *localDriverConfig `json:"local_driver,omitempty"`

	// Outstanding is the single local client currently waiting on a job this
	// driver is running for it, either through its own sidecar or forwarded
	// to the router. At most one at a time.
	Outstanding *envelope.ClientRef `json:"outstanding,omitempty"`

	// Busy is true while this driver is doing one piece of inference work —
	// either serving a router-dispatched job via the sidecar, or waiting on
	// Outstanding to resolve. QueryReady replies true only when !Busy, and
	// the design notes forbid parallel in-flight sidecar calls.
	Busy bool `json:"busy"`
}

func newState() *state {
	return &state{}
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
	return s, nil
}
