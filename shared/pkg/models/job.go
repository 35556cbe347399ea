package models

import (
	"encoding/json"
	"strings"
	"time"
)

// JobStatus represents the status of a job as reported by the server
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Domain names the generation pipeline a job was submitted to
type Domain string

const (
	DomainVideo  Domain = "video"
	DomainQuiz   Domain = "quiz"
	DomainLesson Domain = "lesson"
	DomainCourse Domain = "course"
)

// ParseStatus maps a server status string onto a JobStatus.
// Matching is case-insensitive and legacy spellings are folded onto the canonical set.
// Unknown values are returned verbatim (upper-cased) and are treated as non-terminal.
func ParseStatus(s string) JobStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", "SUBMITTED", "CREATED":
		return JobStatusPending
	case "QUEUED", "WAITING":
		return JobStatusQueued
	case "PROCESSING", "RUNNING", "STARTED", "IN_PROGRESS":
		return JobStatusProcessing
	case "COMPLETED", "SUCCESS", "SUCCEEDED", "DONE":
		return JobStatusCompleted
	case "FAILED", "ERROR":
		return JobStatusFailed
	case "CANCELLED", "CANCELED":
		return JobStatusCancelled
	default:
		return JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	}
}

// UnmarshalJSON accepts any server spelling of a status
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// JobEvent is one entry of a job's server-side event log
type JobEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
}

// Artifact is one output file of a completed job
type Artifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// Job is a snapshot of one server-side unit of work
type Job struct {
	ID              string     `json:"id"`
	Domain          Domain     `json:"domain,omitempty"`
	Title           string     `json:"title,omitempty"`
	Status          JobStatus  `json:"status"`
	Progress        int        `json:"progress"` // 0-100%
	Events          []JobEvent `json:"events,omitempty"`
	ResultLocation  string     `json:"result_url,omitempty"`
	ResultArtifacts []Artifact `json:"result_artifacts,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsZero reports whether the job carries no observation yet
func (j Job) IsZero() bool {
	return j.ID == "" && j.Status == "" && j.UpdatedAt.IsZero()
}

// HasResult reports whether a completed job carries a result.
// A COMPLETED job without one is tolerated and rendered as "completed, no artifact".
func (j Job) HasResult() bool {
	return j.ResultLocation != "" || len(j.ResultArtifacts) > 0
}

// LastEvent returns the most recent event, if any
func (j Job) LastEvent() (JobEvent, bool) {
	if len(j.Events) == 0 {
		return JobEvent{}, false
	}
	return j.Events[len(j.Events)-1], true
}

// Clone returns a copy that shares no slices with j
func (j Job) Clone() Job {
	out := j
	if j.Events != nil {
		out.Events = append([]JobEvent(nil), j.Events...)
	}
	if j.ResultArtifacts != nil {
		out.ResultArtifacts = append([]Artifact(nil), j.ResultArtifacts...)
	}
	return out
}

// SubmitRequest is the body of POST /api/{domain}/generate
type SubmitRequest struct {
	ClientTaskID string                 `json:"client_task_id,omitempty"`
	Title        string                 `json:"title,omitempty"`
	Prompt       string                 `json:"prompt,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

// SubmitResponse is the envelope returned by the generate endpoints
type SubmitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// JobList is the body returned by GET /api/tasks
type JobList struct {
	Tasks []Job `json:"tasks"`
	Total int   `json:"total"`
}

// ListOptions filters GET /api/tasks
type ListOptions struct {
	Limit  int
	Skip   int
	Status JobStatus
}

// CancelRequest is the body of the cancel endpoints
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelResponse is the body returned by the cancel endpoints
type CancelResponse struct {
	CancelledCount int `json:"cancelled_count"`
}
