package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/psantana5/gentrack/pkg/gateway"
	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/poller"
)

func TestResultSummary(t *testing.T) {
	tests := []struct {
		name string
		job  models.Job
		want string
	}{
		{"no artifact", models.Job{Status: models.JobStatusCompleted}, "completed, no artifact"},
		{"location", models.Job{Status: models.JobStatusCompleted, ResultLocation: "r1"}, "r1"},
		{"artifacts", models.Job{Status: models.JobStatusCompleted, ResultArtifacts: []models.Artifact{{Name: "a.mp4"}, {Name: "b.vtt"}}}, "a.mp4, b.vtt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resultSummary(tt.job); got != tt.want {
				t.Errorf("resultSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateStatusDistinguishesTrackingLost(t *testing.T) {
	lost := poller.State{TrackingLost: true, LastError: gateway.ErrNotFound}
	if got := stateStatus(lost); got != "TRACKING LOST" {
		t.Errorf("stateStatus(lost) = %q", got)
	}
	failed := poller.State{Job: models.Job{ID: "a", Status: models.JobStatusFailed, ErrorMessage: "render crashed"}}
	if got := stateStatus(failed); got != "FAILED" {
		t.Errorf("stateStatus(failed) = %q", got)
	}
	if got := stateDetail(failed); got != "render crashed" {
		t.Errorf("stateDetail(failed) = %q", got)
	}
}

func TestStateDetailShowsRetry(t *testing.T) {
	s := poller.State{
		Job:       models.Job{ID: "a", Status: models.JobStatusProcessing},
		LastError: errors.New("connection reset"),
	}
	if got := stateDetail(s); !strings.HasPrefix(got, "retrying: ") {
		t.Errorf("stateDetail() = %q, want retrying prefix", got)
	}
}

func TestParseDomain(t *testing.T) {
	for _, d := range []string{"video", "quiz", "lesson", "course"} {
		if _, err := parseDomain(d); err != nil {
			t.Errorf("parseDomain(%q) unexpected error: %v", d, err)
		}
	}
	if _, err := parseDomain("podcast"); err == nil {
		t.Errorf("parseDomain(podcast) should fail")
	}
}

func TestRenderJobList(t *testing.T) {
	var buf bytes.Buffer
	renderJobList(&buf, models.JobList{
		Tasks: []models.Job{{ID: "task-1", Status: models.JobStatusQueued, Title: "Fractions"}},
		Total: 1,
	})

	out := buf.String()
	for _, want := range []string{"task-1", "QUEUED", "Fractions", "Total jobs: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("a very long title indeed", 10); got != "a very ..." {
		t.Errorf("truncate() = %q", got)
	}
}
