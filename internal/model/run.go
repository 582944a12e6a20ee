package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run records one crawl process.
type Run struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	Stage        string
	ErrorMessage *string
}
