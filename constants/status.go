package constants

// JobStatus is the canonical status for rows in the jobs table.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobQueued     JobStatus = "queued"     // waiting for a worker
	JobProcessing JobStatus = "processing" // claimed by a worker
	JobCompleted  JobStatus = "completed"  // terminal success
	JobFailed     JobStatus = "failed"     // terminal failure
)

// IsTerminal reports whether a job in this status will never change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}
