package entity

import (
	"time"

	"github.com/volantino-labs/flyer-extractor/constants"
)

// Job is one end-to-end request to extract products from a single flyer.
type Job struct {
	ID              string
	Filename        string
	FilePath        string
	SourceURL       string
	SupermarketName string

	Status   constants.JobStatus
	Progress int
	Message  string

	// RequeuedCount tracks stuck-job recoveries. The sweeper requeues a
	// stalled job once; a second stall fails it.
	RequeuedCount int

	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ProcessingTime *float64 // seconds
	TotalProducts  int
}

// Age returns how long the job has been running, falling back to creation
// time when it never entered processing.
func (j *Job) Age(now time.Time) time.Duration {
	if j.StartedAt != nil {
		return now.Sub(*j.StartedAt)
	}
	return now.Sub(j.CreatedAt)
}
