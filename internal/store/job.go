// SPDX-License-Identifier: MIT

// Package store is the system-of-record for processing jobs and the
// append-only event log that accompanies them.
package store

import "time"

// Status is the client-visible lifecycle of a job. Transitions are strictly
// forward: queued -> processing -> completed|failed.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Job is the durable record of one unit of processing work.
type Job struct {
	ID             string    `json:"job_id"`
	SourceFilename string    `json:"source_filename"`
	Template       string    `json:"template"`
	AspectRatio    string    `json:"aspect_ratio"`
	Status         Status    `json:"status"`
	OutputPath     string    `json:"output_path,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event is one entry in the append-only activity log.
type Event struct {
	Severity string    `json:"severity"`
	JobID    string    `json:"job_id,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}
