package models

import "time"

// QueueSnapshot is a point-in-time view of the aggregate queue.
// Each fetch replaces the previous snapshot entirely.
type QueueSnapshot struct {
	QueueLength  int       `json:"queue_length"`
	RunningCount int       `json:"running_count"`
	PendingCount int       `json:"pending_count"`
	FetchedAt    time.Time `json:"-"`
}
