package model

import (
	"fmt"

	"github.com/google/uuid"
)

// JobID identifies a single ingest job. Orchestration tooling passes one
// in; ad-hoc invocations generate their own.
type JobID string

// NewJobID generates a fresh UUIDv7 job identifier.
func NewJobID() (JobID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return JobID(id.String()), nil
}

// Validate checks that the JobID is a valid UUIDv7.
func (j JobID) Validate() error {
	if j == "" {
		return fmt.Errorf("job-id cannot be empty")
	}
	id, err := uuid.Parse(string(j))
	if err != nil {
		return fmt.Errorf("job-id must be a valid UUID: %w", err)
	}
	if id.Version() != uuid.Version(7) {
		return fmt.Errorf("job-id must be a UUIDv7, got v%d", id.Version())
	}
	return nil
}

// String returns the job ID as a string.
func (j JobID) String() string {
	return string(j)
}

// Status describes the ingest state of a destination collection.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
)
