package coordinator

import "fmt"

// QueueStatusKey addresses the aggregate queue snapshot
const QueueStatusKey = "queue_status"

// Invalidation patterns covering every key built here
const (
	JobStatusPattern = "job_status_*"
	JobListPattern   = "job_list_*"
)

// JobStatusKey addresses the status of one job
func JobStatusKey(jobID string) string {
	return "job_status_" + jobID
}

// JobListKey addresses one page of the job list
func JobListKey(limit, skip int, status string) string {
	return fmt.Sprintf("job_list_%d_%d_%s", limit, skip, status)
}
