package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/user/mediasync/internal/types"
)

// JobStatus is the lifecycle state of a queued upload.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobInFlight JobStatus = "in_flight"
	JobDone     JobStatus = "done"
	JobFallback JobStatus = "fallback"
	JobFailed   JobStatus = "failed"
)

// Job is one upload submitted to a Queue. Jobs sharing a Lane run in
// submission order.
type Job struct {
	ID         string
	Lane       string
	Path       string
	Tags       []types.TagID
	Status     JobStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Result     Result
	OnComplete func(*Job)
}

// NewJob creates a queued job for path on the given lane.
func NewJob(lane, path string, tags []types.TagID) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Lane:      lane,
		Path:      path,
		Tags:      tags,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
}

func (j *Job) finish(res Result) {
	now := time.Now()
	j.EndedAt = &now
	j.Result = res
	switch res.Outcome {
	case OutcomeSuccess:
		j.Status = JobDone
	case OutcomeLocalFallback:
		j.Status = JobFallback
	default:
		j.Status = JobFailed
	}
	if j.OnComplete != nil {
		j.OnComplete(j)
	}
}
