// SPDX-License-Identifier: MIT

// Package jobs is the orchestrator for asynchronous video-processing work:
// it accepts a job, runs it off the request path and reconciles every outcome
// into exactly one terminal status in the job record store.
package jobs

import (
	"context"
	"time"

	"github.com/watchthefall/portal/internal/assets"
	"github.com/watchthefall/portal/internal/memguard"
	"github.com/watchthefall/portal/internal/store"
	"github.com/watchthefall/portal/internal/transcode"
)

// Guard is the pre-flight memory check consulted before a transcode.
type Guard interface {
	Check() (memguard.Reading, error)
}

// Resolver maps a brand identifier to overlay assets.
type Resolver interface {
	Resolve(template string) assets.Overlays
}

// Engine executes a single transcode run to completion.
type Engine interface {
	Run(ctx context.Context, req transcode.Request) error
}

// Deps holds all collaborators for the orchestrator.
type Deps struct {
	Store    store.Store
	Guard    Guard
	Resolver Resolver
	Engine   Engine
	// Clock defaults to time.Now; tests inject fixed times.
	Clock func() time.Time
}

// Settings are the orchestrator's own tunables.
type Settings struct {
	OutputDir string
	TempDir   string
	// MaxConcurrent bounds in-flight transcodes; queued jobs wait for a slot.
	MaxConcurrent int
}
