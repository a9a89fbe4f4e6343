// SPDX-License-Identifier: MIT

// Package memguard implements the pre-flight memory check that runs before a
// transcode is committed. The check is advisory: memory can drop between the
// read and the subprocess spawn, but it is a cheap early exit for jobs that
// are clearly doomed on a constrained host.
package memguard

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/watchthefall/portal/internal/log"
)

// Level classifies how much headroom the host has.
type Level int

const (
	LevelOK Level = iota
	// LevelLow means the check passes but the host is close to the floor.
	LevelLow
	// LevelInsufficient means the caller must abort before spawning anything.
	LevelInsufficient
)

// Reading is the outcome of a single check.
type Reading struct {
	Level          Level
	AvailableBytes uint64
}

// Guard reads available system memory against configured floors.
type Guard struct {
	// FloorBytes is the hard floor; below it Check reports insufficient.
	FloorBytes uint64
	// SoftBytes is the warning threshold between floor and comfortable.
	SoftBytes uint64

	// ReadAvail overrides the memory source; tests inject fixed values.
	ReadAvail func() (uint64, error)
}

// New returns a Guard with the given floors and the system memory source.
func New(floor, soft uint64) *Guard {
	return &Guard{FloorBytes: floor, SoftBytes: soft}
}

func systemAvailable() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Check reads available memory and classifies it. A read failure is returned
// as an error rather than a refusal: the caller decides whether to proceed
// blind or fail the job.
func (g *Guard) Check() (Reading, error) {
	read := g.ReadAvail
	if read == nil {
		read = systemAvailable
	}
	avail, err := read()
	if err != nil {
		return Reading{}, fmt.Errorf("memguard: read available memory: %w", err)
	}

	r := Reading{AvailableBytes: avail}
	switch {
	case avail < g.FloorBytes:
		r.Level = LevelInsufficient
	case avail < g.SoftBytes:
		r.Level = LevelLow
		logger := log.WithComponent("memguard")
		logger.Warn().
			Uint64("available_bytes", avail).
			Uint64("soft_floor_bytes", g.SoftBytes).
			Msg("available memory below soft floor")
	default:
		r.Level = LevelOK
	}
	return r, nil
}

// Err renders a reading as the job-visible refusal message.
func (r Reading) Err() error {
	return fmt.Errorf("insufficient memory: %dMB available", r.AvailableBytes/(1024*1024))
}
