// Package config centralizes router and driver configuration into typed
// structs, each with a NewDefault constructor, the same pattern the rest of
// this codebase's ancestry uses for its service configs.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// TimeoutConfig holds the three timeouts named in the concurrency model.
type TimeoutConfig struct {
	QueueResponseTimeout time.Duration // probe reply deadline, default 5s
	ServeTimeout         time.Duration // dispatched-job deadline, default 60s
	DefaultTimeout       time.Duration // misc ack deadline, default 30s
}

func NewDefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		QueueResponseTimeout: 5 * time.Second,
		ServeTimeout:         60 * time.Second,
		DefaultTimeout:       30 * time.Second,
	}
}

// RouterConfig configures the router process.
type RouterConfig struct {
	Listen    string
	ProcessID string
	StatePath string
	Timeouts  TimeoutConfig
}

func NewDefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Listen:    ":9001",
		ProcessID: "router:llmfed",
		StatePath: "router.state.json",
		Timeouts:  NewDefaultTimeoutConfig(),
	}
}

// DriverConfig configures a driver process.
type DriverConfig struct {
	Listen          string
	ProcessID       string
	Node            string // this node's own name, for source authorization checks
	StatePath       string
	RouterNode      string
	RouterProcessID string
	Timeouts        TimeoutConfig

	// SidecarAPIKey is the credential forwarded to this node's configured
	// sidecar adapter. A node hosting llama.cpp leaves this empty since that
	// adapter talks to an unauthenticated local server.
	SidecarAPIKey string
}

func NewDefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Listen:          ":9002",
		ProcessID:       "driver:llmfed",
		RouterProcessID: "router:llmfed",
		StatePath:       "driver.state.json",
		Timeouts:        NewDefaultTimeoutConfig(),
	}
}

// LoadOverlay decodes an optional on-disk JSON config file over an existing
// default, using mapstructure so field names are matched case-insensitively
// and unknown keys are reported rather than silently ignored. A missing file
// is not an error — the defaults stand on their own, as in the source's
// "admin CLI sets config values" model where no file is required to boot.
func LoadOverlay(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}
