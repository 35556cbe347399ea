package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psantana5/gentrack/pkg/gateway"
	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/poller"
	"github.com/psantana5/gentrack/pkg/tracker"
)

var (
	// Job submit flags
	submitDomain string
	submitTitle  string
	submitPrompt string
	submitParams map[string]string

	// Job list flags
	listLimit  int
	listSkip   int
	listStatus string
	listWatch  bool

	// Job cancel flags
	cancelDomain string
	cancelReason string

	followStatus bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs",
	Long:  `Commands for submitting, listing, following and cancelling generation jobs.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	Long:  `Submit a generation job to one of the video, quiz, lesson or course pipelines.`,
	Example: `  genctl jobs submit --domain quiz --title "Fractions" --prompt "10 questions for grade 5"
  genctl jobs submit --domain video --title "Intro" --param voice=alloy --follow`,
	RunE: runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Long:  `Retrieve the status of a job. With --follow, poll every 2 seconds until the job finishes.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long:  `List jobs of the active account. With --watch, refresh every 10 seconds.`,
	RunE:  runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long:  `Ask the server to cancel a pending or running job.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsSubmitCmd.Flags().StringVar(&submitDomain, "domain", string(models.DomainVideo), "pipeline: video, quiz, lesson, course")
	jobsSubmitCmd.Flags().StringVar(&submitTitle, "title", "", "job title (required)")
	jobsSubmitCmd.Flags().StringVar(&submitPrompt, "prompt", "", "generation prompt")
	jobsSubmitCmd.Flags().StringToStringVar(&submitParams, "param", nil, "extra parameters as key=value")
	jobsSubmitCmd.Flags().BoolVar(&followStatus, "follow", false, "follow the job until it finishes")
	jobsSubmitCmd.MarkFlagRequired("title")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")

	jobsListCmd.Flags().IntVar(&listLimit, "limit", 20, "page size")
	jobsListCmd.Flags().IntVar(&listSkip, "skip", 0, "jobs to skip")
	jobsListCmd.Flags().StringVar(&listStatus, "status", "", "only jobs with this status")
	jobsListCmd.Flags().BoolVar(&listWatch, "watch", false, "refresh the list every 10 seconds")

	jobsCancelCmd.Flags().StringVar(&cancelDomain, "domain", string(models.DomainVideo), "pipeline the job was submitted to")
	jobsCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "reason recorded with the cancellation")
}

func parseDomain(s string) (models.Domain, error) {
	switch d := models.Domain(s); d {
	case models.DomainVideo, models.DomainQuiz, models.DomainLesson, models.DomainCourse:
		return d, nil
	default:
		return "", fmt.Errorf("unknown domain %q (want video, quiz, lesson or course)", s)
	}
}

// signalContext is cancelled on Ctrl+C
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	domain, err := parseDomain(submitDomain)
	if err != nil {
		return err
	}

	logger := newLogger()
	client, err := newClient(logger, nil, nil)
	if err != nil {
		return err
	}
	tr := tracker.New(client, tracker.DefaultConfig(), tracker.WithLogger(logger))
	defer tr.Close()

	req := models.SubmitRequest{Title: submitTitle, Prompt: submitPrompt}
	if len(submitParams) > 0 {
		req.Parameters = make(map[string]interface{}, len(submitParams))
		for k, v := range submitParams {
			req.Parameters[k] = v
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	id, err := tr.Submit(ctx, domain, req)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	if !followStatus {
		if isStructuredOutput() {
			return printStructured(map[string]string{"task_id": id, "domain": string(domain)})
		}
		fmt.Printf("Job submitted successfully! Job ID: %s\n", id)
		return nil
	}

	fmt.Printf("Job %s submitted, following (press Ctrl+C to stop)...\n\n", id)
	return follow(ctx, tr, id)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	logger := newLogger()
	client, err := newClient(logger, nil, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if followStatus {
		tr := tracker.New(client, tracker.DefaultConfig(), tracker.WithLogger(logger))
		defer tr.Close()
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		return follow(ctx, tr, jobID)
	}

	job, err := client.GetJob(ctx, jobID)
	if err != nil {
		if gateway.IsNotFound(err) {
			return fmt.Errorf("job %s not found", jobID)
		}
		return err
	}
	if isStructuredOutput() {
		return printStructured(job)
	}
	renderJob(os.Stdout, job)
	return nil
}

// follow renders every update of a job until it finishes or ctx ends
func follow(ctx context.Context, tr *tracker.Tracker, jobID string) error {
	updates, stop := tr.Watch(jobID)
	defer stop()

	var last poller.State
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-updates:
			if !ok {
				return finalStatus(last)
			}
			last = s
			if isStructuredOutput() {
				if err := printStructured(s.Job); err != nil {
					return err
				}
				continue
			}
			fmt.Print("\033[H\033[2J") // Clear screen
			if s.Job.IsZero() {
				fmt.Printf("Job %s: %s\n", jobID, stateDetail(s))
				continue
			}
			renderJob(os.Stdout, s.Job)
			if s.LastError != nil {
				fmt.Printf("\nLast fetch failed, retrying: %v\n", s.LastError)
			}
		}
	}
}

func finalStatus(s poller.State) error {
	switch {
	case s.TrackingLost:
		return fmt.Errorf("tracking lost: %w", s.LastError)
	case s.Job.Status == models.JobStatusFailed:
		fmt.Println("\nJob failed")
	case models.IsTerminalState(s.Job.Status):
		fmt.Println("\n✓ Job reached terminal state")
	}
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	opts := models.ListOptions{Limit: listLimit, Skip: listSkip}
	if listStatus != "" {
		opts.Status = models.ParseStatus(listStatus)
	}

	logger := newLogger()
	client, err := newClient(logger, nil, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !listWatch {
		list, err := client.ListJobs(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if isStructuredOutput() {
			return printStructured(list)
		}
		renderJobList(os.Stdout, list)
		return nil
	}

	tr := tracker.New(client, tracker.DefaultConfig(), tracker.WithLogger(logger))
	defer tr.Close()
	lp := tr.JobList(opts)
	updates, stop := lp.Subscribe()
	defer stop()
	lp.Start(ctx)
	defer lp.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case list, ok := <-updates:
			if !ok {
				return nil
			}
			if isStructuredOutput() {
				if err := printStructured(list); err != nil {
					return err
				}
				continue
			}
			fmt.Print("\033[H\033[2J")
			renderJobList(os.Stdout, list)
		}
	}
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	domain, err := parseDomain(cancelDomain)
	if err != nil {
		return err
	}

	client, err := newClient(newLogger(), nil, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	count, err := client.CancelJob(ctx, domain, jobID, cancelReason)
	switch {
	case errors.Is(err, gateway.ErrCancellationRejected):
		fmt.Printf("Job %s was not cancelled: it already finished\n", jobID)
		return nil
	case err != nil:
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	if isStructuredOutput() {
		return printStructured(models.CancelResponse{CancelledCount: count})
	}
	fmt.Printf("Cancellation requested for job %s\n", jobID)
	return nil
}
