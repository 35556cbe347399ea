package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/gentrack/pkg/tracker"
)

var queueWatch bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the job queue",
	Long:  `Show the aggregate queue: queued, running and pending jobs. With --watch, refresh every 2 seconds.`,
	RunE:  runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.Flags().BoolVar(&queueWatch, "watch", false, "refresh the queue every 2 seconds")
}

func runQueue(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	client, err := newClient(logger, nil, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !queueWatch {
		snap, err := client.QueueStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get queue status: %w", err)
		}
		if isStructuredOutput() {
			return printStructured(snap)
		}
		renderQueue(os.Stdout, snap)
		return nil
	}

	tr := tracker.New(client, tracker.DefaultConfig(), tracker.WithLogger(logger))
	defer tr.Close()
	updates, stop := tr.Queue().Subscribe()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if isStructuredOutput() {
				if err := printStructured(snap); err != nil {
					return err
				}
				continue
			}
			fmt.Print("\033[H\033[2J")
			renderQueue(os.Stdout, snap)
		}
	}
}
