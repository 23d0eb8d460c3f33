// Package llm routes analysis prompts to a configurable language-model
// provider and normalizes errors and JSON payloads across them.
package llm

import (
	"context"
	"time"
)

// Request is one generation call. WantJSON tells the provider to steer the
// model toward a bare JSON object.
type Request struct {
	System   string
	Prompt   string
	WantJSON bool
}

// Result carries a parsed JSON response. Raw is always set, even when
// parsing failed, so callers can salvage a degraded result.
type Result struct {
	Object   map[string]any
	Raw      string
	Provider string
	Elapsed  time.Duration
}

// Provider is one backing language-model service.
type Provider interface {
	Name() string
	// Available reports whether the provider can serve calls at all:
	// credentials present, local daemon reachable.
	Available(ctx context.Context) error
	Generate(ctx context.Context, req Request) (string, error)
}
