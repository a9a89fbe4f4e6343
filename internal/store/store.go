// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by GetJob for an unknown job ID.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned by CreateJob when the ID already exists.
	ErrDuplicateJob = errors.New("duplicate job id")
	// ErrUnknownJob is returned by UpdateStatus for an absent job. Unlike
	// ErrNotFound it indicates an integration defect: only the orchestrator
	// updates jobs, and it only updates jobs it created.
	ErrUnknownJob = errors.New("unknown job id")
	// ErrInvalidTransition is returned when an update would move a job
	// backward or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the durable table of jobs plus the activity log.
//
// Implementations must be safe under concurrent callers: one execution
// context per in-flight job plus the HTTP read path. Every mutating job call
// also appends an event to the log as a side effect.
type Store interface {
	// CreateJob persists a new job. The job must already carry ID, status
	// and CreatedAt. Fails with ErrDuplicateJob if the ID exists.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns the job or ErrNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateStatus moves a job forward. outputPath is recorded only on
	// completed, errMsg only on failed. Fails with ErrUnknownJob or
	// ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status Status, outputPath, errMsg string) error

	// ListRecent returns up to limit jobs, most recent first.
	ListRecent(ctx context.Context, limit int) ([]*Job, error)

	// AppendEvent adds an entry to the activity log.
	AppendEvent(ctx context.Context, ev Event) error

	// RecentEvents returns up to limit log entries, most recent first.
	RecentEvents(ctx context.Context, limit int) ([]Event, error)

	Close() error
}

// applyTransition mutates job in place after validating the transition.
// Shared by the bolt and memory implementations so both enforce identical
// semantics.
func applyTransition(job *Job, status Status, outputPath, errMsg string) error {
	if !status.Valid() {
		return ErrInvalidTransition
	}
	if job.Status.IsTerminal() || status.rank() <= job.Status.rank() {
		return ErrInvalidTransition
	}
	job.Status = status
	switch status {
	case StatusCompleted:
		job.OutputPath = outputPath
		job.ErrorMessage = ""
	case StatusFailed:
		job.ErrorMessage = errMsg
		job.OutputPath = ""
	}
	return nil
}
