package jobs

// Status represents the lifecycle state of a conversion job
type Status string

const (
	// StatusPending means the job is queued waiting for a free slot
	StatusPending Status = "pending"

	// StatusRunning means the converter is running
	StatusRunning Status = "running"

	// StatusCompleted means the artifact was produced
	StatusCompleted Status = "completed"

	// StatusFailed means the converter failed
	StatusFailed Status = "failed"

	// StatusCanceled means the job was canceled before it finished
	StatusCanceled Status = "canceled"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsActive returns true if the job has not finished yet
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// IsFinished returns true if the job reached a final state
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}
