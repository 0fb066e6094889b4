// Package sidecar implements the upstream LLM provider adapters the spec
// treats as an opaque external collaborator: "run this prompt on this model
// and return the completion text." The interface is synchronous from the
// core's perspective; streaming is an explicit non-goal.
package sidecar

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by adapters that don't implement a given
// capability (embeddings, for instance, are only wired up for OpenAI in the
// source this was distilled from).
var ErrUnsupported = errors.New("sidecar: capability not supported by this adapter")

// Kind classifies the failure so the driver can turn it into the right
// envelope-level error without inspecting provider-specific details.
type Kind int

const (
	KindTransport Kind = iota
	KindAuthorization
	KindUpstream
	KindTimeout
)

// Error is the typed sidecar error. Its Kind is one of transport,
// authorization, upstream or timeout; there is no separate rate-limit kind,
// so a rate-limited response (HTTP 429) is reported as KindUpstream.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// ChatRequest is the adapter-facing shape of a JobSpec plus the API key the
// driver was configured with for this provider.
type ChatRequest struct {
	APIKey string
	Model  string
	Prompt string
	Seed   *uint64
}

// EmbedRequest is the supplemented embeddings capability (see SPEC_FULL.md
// §7); only the OpenAI adapter implements it, matching the source.
type EmbedRequest struct {
	APIKey string
	Model  string
	Input  string
}

// Sidecar is the contract every provider adapter satisfies.
type Sidecar interface {
	// Chat runs a single prompt to completion and returns the completion
	// text, or a typed Error.
	Chat(ctx context.Context, req ChatRequest) (string, error)
	// Embed returns a vector embedding for the input text. Adapters that
	// don't support it return ErrUnsupported.
	Embed(ctx context.Context, req EmbedRequest) ([]float64, error)

	// Timeout is the upstream call deadline for this adapter: 60s for the
	// OpenAI-compatible chat shape, 30s for anything else.
	Timeout() time.Duration
}

// oaiCompatibleTimeout and otherTimeout are the two upstream deadlines the
// spec names; adapters pick one depending on whether they speak the
// OpenAI-compatible /chat/completions shape.
const (
	oaiCompatibleTimeout = 60 * time.Second
	otherTimeout         = 30 * time.Second
)
