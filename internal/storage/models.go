package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Generation is one fresh model production, stored as the source of truth
// for results the in-memory cache may have forgotten.
type Generation struct {
	ID           string
	Operation    string
	CacheKey     string
	PayloadJSON  string
	RawOutput    string
	SectionsJSON string // JSON array of sections
	Model        string
	CreatedAt    time.Time
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	ResultID    string // generation id once completed
}
