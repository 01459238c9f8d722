// Package jobs provides the durable job queue: a Postgres-backed store with
// claim/cancel semantics and an executor that runs registered handlers.
package jobs

import (
	"errors"
	"time"
)

// Status is a job lifecycle state persisted in the status column.
type Status string

// Job statuses. A job moves queued -> running -> one terminal state.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CancelAction describes what a cancel request did.
type CancelAction string

// Cancel outcomes: queued jobs are removed outright, running jobs get the
// flag and stop at their next check.
const (
	CancelDeleted CancelAction = "deleted"
	CancelMarked  CancelAction = "marked-cancelled"
)

var (
	// ErrNotFound signals the job id has no row.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyTerminal signals an operation on a finished job.
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
)

// Job mirrors one row of the jobs table. Args and Result hold raw JSON.
type Job struct {
	ID              string
	Name            string
	Status          Status
	Args            []byte
	Result          []byte
	Logs            string
	Error           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CancelRequested bool
}
