package cli

import (
	"fmt"

	"github.com/sbenjam1n/seopatch/internal/queue"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue management",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending chunks and patch requests in Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := connectRedis()
		if err != nil {
			return err
		}
		defer rdb.Close()

		ctx := cmd.Context()
		q := queue.New(rdb)

		chunks, patches, err := q.Status(ctx)
		if err != nil {
			return fmt.Errorf("queue status: %w", err)
		}

		fmt.Printf("Queue Status:\n")
		fmt.Printf("  %s:    %d entries\n", queue.StreamChunks, chunks)
		fmt.Printf("  %s: %d entries\n", queue.StreamPatches, patches)
		return nil
	},
}

var queueJobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show analysis progress of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		job, err := e.store.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Job %s (%s)\n", job.ID, job.Root)
		fmt.Printf("  created:  %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  analyzed: %d/%d chunks\n", job.AnalyzedChunks, job.TotalChunks)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueJobCmd)
}
