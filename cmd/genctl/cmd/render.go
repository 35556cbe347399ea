package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/poller"
)

// renderJob prints one job as a field/value table
func renderJob(w io.Writer, job models.Job) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	table.Append("Job ID", job.ID)
	if job.Domain != "" {
		table.Append("Domain", string(job.Domain))
	}
	if job.Title != "" {
		table.Append("Title", job.Title)
	}
	table.Append("Status", string(job.Status))
	table.Append("Progress", formatProgress(job))
	if ev, ok := job.LastEvent(); ok {
		table.Append("Last Event", ev.Message)
	}
	if job.Status == models.JobStatusCompleted {
		table.Append("Result", resultSummary(job))
	}
	if job.Status == models.JobStatusFailed {
		table.Append("Error", job.ErrorMessage)
		if job.ErrorDetail != "" {
			table.Append("Error Detail", job.ErrorDetail)
		}
	}
	if !job.CreatedAt.IsZero() {
		table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	}
	if !job.UpdatedAt.IsZero() {
		table.Append("Updated At", job.UpdatedAt.Format(time.RFC3339))
	}

	table.Render()
}

// renderJobList prints a page of jobs
func renderJobList(w io.Writer, list models.JobList) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Domain", "Title", "Status", "Progress", "Updated")

	for _, job := range list.Tasks {
		table.Append(
			job.ID,
			orDash(string(job.Domain)),
			orDash(truncate(job.Title, 40)),
			string(job.Status),
			formatProgress(job),
			formatTime(job.UpdatedAt),
		)
	}

	table.Render()
	fmt.Fprintf(w, "\nTotal jobs: %d\n", list.Total)
}

// renderQueue prints the queue snapshot
func renderQueue(w io.Writer, snap models.QueueSnapshot) {
	table := tablewriter.NewWriter(w)
	table.Header("Queue Length", "Running", "Pending", "Fetched")
	table.Append(
		fmt.Sprintf("%d", snap.QueueLength),
		fmt.Sprintf("%d", snap.RunningCount),
		fmt.Sprintf("%d", snap.PendingCount),
		formatTime(snap.FetchedAt),
	)
	table.Render()
}

// renderDashboard prints the watched jobs and the queue
func renderDashboard(w io.Writer, ids []string, states map[string]poller.State, snap models.QueueSnapshot, haveQueue bool) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Status", "Progress", "Detail")

	for _, id := range ids {
		s, ok := states[id]
		if !ok {
			table.Append(id, "-", "-", "waiting for first update")
			continue
		}
		table.Append(id, stateStatus(s), formatProgress(s.Job), stateDetail(s))
	}
	table.Render()

	if haveQueue {
		fmt.Fprintf(w, "\nQueue: %d queued, %d running, %d pending\n",
			snap.QueueLength, snap.RunningCount, snap.PendingCount)
	}
}

// stateStatus tells a lost job apart from a failed one
func stateStatus(s poller.State) string {
	if s.TrackingLost {
		return "TRACKING LOST"
	}
	if s.Job.Status == "" {
		return "-"
	}
	return string(s.Job.Status)
}

func stateDetail(s poller.State) string {
	switch {
	case s.TrackingLost:
		return "job unknown to server"
	case s.Job.Status == models.JobStatusCompleted:
		return resultSummary(s.Job)
	case s.Job.Status == models.JobStatusFailed:
		return orDash(s.Job.ErrorMessage)
	case s.LastError != nil:
		return "retrying: " + truncate(s.LastError.Error(), 50)
	}
	if ev, ok := s.Job.LastEvent(); ok {
		return truncate(ev.Message, 50)
	}
	return "-"
}

// resultSummary describes the output of a completed job
func resultSummary(job models.Job) string {
	if !job.HasResult() {
		return "completed, no artifact"
	}
	if job.ResultLocation != "" {
		return job.ResultLocation
	}
	names := make([]string, 0, len(job.ResultArtifacts))
	for _, a := range job.ResultArtifacts {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func formatProgress(job models.Job) string {
	if job.Status == "" {
		return "-"
	}
	return fmt.Sprintf("%d%%", job.Progress)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
