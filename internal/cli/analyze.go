package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/seopatch/internal/queue"
	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [pattern...]",
	Short: "Show how the workspace would be split into chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		profiles, err := loadProfiles()
		if err != nil {
			return err
		}
		ch, err := newChunker(profiles)
		if err != nil {
			return err
		}
		chunks, err := ch.ChunkTree(cmd.Context(), cfg.Workspace, args)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(chunks)
		}
		for _, c := range chunks {
			fmt.Printf("%s:%d-%d  overlap=%d\n", c.FilePath, c.StartLine, c.EndLine, c.OverlapLines)
		}
		fmt.Printf("\n%d chunk(s)\n", len(chunks))
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [pattern...]",
	Short: "Chunk the workspace and collect SEO issues",
	Long: `Chunk every source file in the workspace and send the chunks to the analyzer.
Without --queue the analysis runs in this process. With --queue the chunks are
pushed to Redis for 'seopatch worker' to pick up. --dry-run keeps everything
in memory and prints the reconciled issues without touching the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		useQueue, _ := cmd.Flags().GetBool("queue")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if useQueue && dryRun {
			return fmt.Errorf("--queue and --dry-run cannot be combined")
		}
		ctx := cmd.Context()

		e, err := openEnv(ctx, envOptions{memory: dryRun, analyzer: !useQueue, redis: useQueue})
		if err != nil {
			return err
		}
		defer e.close()

		if useQueue {
			job, err := e.pipeline.Submit(ctx, queue.New(e.rdb), cfg.Workspace, args)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s: %d chunk(s) queued on %s\n", job.ID, job.TotalChunks, queue.StreamChunks)
			return nil
		}

		report, err := e.pipeline.Analyze(ctx, cfg.Workspace, args)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s\n", report.JobID)
		fmt.Printf("  chunks:   %d (%d failed)\n", report.Chunks, report.FailedChunks)
		fmt.Printf("  issues:   %d (%d proposals dropped)\n", report.Issues, report.Dropped)
		printReconciled(report.Reconciled)

		if dryRun {
			issues, err := e.store.ListIssues(ctx, store.IssueFilter{JobID: report.JobID})
			if err != nil {
				return err
			}
			fmt.Println()
			printIssues(issues)
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <job-id>",
	Short: "Re-run duplicate and conflict reconciliation for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		summary, err := e.pipeline.ReconcileJob(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("superseded=%d conflicts=%d transitions=%d\n", summary.Superseded, summary.Conflicts, summary.Transitions)
		printConflictDetails(summary.Details)
		return nil
	},
}

func printReconciled(byFile map[string]seo.ConflictSummary) {
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		s := byFile[f]
		if s.Superseded == 0 && s.Conflicts == 0 {
			continue
		}
		fmt.Printf("  %s: %d superseded, %d in conflict\n", f, s.Superseded, s.Conflicts)
	}
}

func printConflictDetails(details []seo.ConflictDetail) {
	for _, d := range details {
		fmt.Printf("  CONFLICT %s:%d issues=%v\n", d.FilePath, d.LineNumber, d.IssueIDs)
	}
}

func init() {
	chunkCmd.Flags().Bool("json", false, "Print chunks as JSON")
	analyzeCmd.Flags().Bool("queue", false, "Queue chunks for workers instead of analyzing in-process")
	analyzeCmd.Flags().Bool("dry-run", false, "Analyze in memory and print issues without saving them")
}
