package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// CleanupJob is an async session-clear request consumed by cmd/worker. The
// worker deletes the session's blobs, file rows, conversation rows and the
// session row itself.
type CleanupJob struct {
	ID        string    `gorm:"primaryKey;size:26"` // ULID length
	SessionID string    `gorm:"type:varchar(64);index;not null"`
	Status    JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CleanupJob) TableName() string { return "cleanup_jobs" }
