package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/seopatch/internal/breaker"
	"github.com/sbenjam1n/seopatch/internal/patch"
	"github.com/sbenjam1n/seopatch/internal/queue"
	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
)

var applyCmd = &cobra.Command{
	Use:   "apply [job-id]",
	Short: "Apply approved issues with backup, validation and rollback",
	Long: `Apply every approved issue of a job, or a single issue with --issue.
Each patch is backed up, applied, validated, and automatically rolled back on
failure. After too many failed patches the job's circuit breaker trips and the
remaining issues are left approved. The breaker lives for this run unless
--shared-breaker keeps it in Redis alongside the workers'. With --queue the
requests are pushed to Redis for 'seopatch worker'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueID, _ := cmd.Flags().GetInt64("issue")
		useQueue, _ := cmd.Flags().GetBool("queue")
		shared, _ := cmd.Flags().GetBool("shared-breaker")
		if (issueID == 0) == (len(args) == 0) {
			return fmt.Errorf("give either a job id or --issue")
		}
		ctx := cmd.Context()

		e, err := openEnv(ctx, envOptions{engine: !useQueue, redis: useQueue || shared})
		if err != nil {
			return err
		}
		defer e.close()

		if useQueue {
			return queuePatches(ctx, e, args, issueID, queue.OpApply)
		}

		if issueID != 0 {
			rec, err := e.pipeline.ApplyIssue(ctx, issueID)
			if err != nil {
				printPatchError(issueID, err)
				return err
			}
			fmt.Printf("Issue %d applied to %s:%d (%+d lines)\n", issueID, rec.FilePath, rec.LineNumber, rec.LineDelta)
			return nil
		}

		report, err := e.pipeline.ApplyApproved(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Applied: %d  Failed: %d  Skipped: %d\n", len(report.Applied), len(report.Failed), len(report.Skipped))
		failed := make([]int64, 0, len(report.Failed))
		for id := range report.Failed {
			failed = append(failed, id)
		}
		sort.Slice(failed, func(a, b int) bool { return failed[a] < failed[b] })
		for _, id := range failed {
			fmt.Printf("  FAIL %d: %s\n", id, report.Failed[id])
		}
		if report.Tripped {
			fmt.Printf("\nCircuit breaker tripped. Fix the failures, then run: seopatch breaker reset %s\n", args[0])
		}
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <issue-id>",
	Short: "Restore a file to its state before an issue was applied",
	Long: `Restore the backup taken before the issue was applied. Patches applied to the
same file after it are rolled back too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		useQueue, _ := cmd.Flags().GetBool("queue")
		ctx := cmd.Context()

		e, err := openEnv(ctx, envOptions{engine: !useQueue, redis: useQueue})
		if err != nil {
			return err
		}
		defer e.close()

		if useQueue {
			return queuePatches(ctx, e, nil, id, queue.OpRollback)
		}
		rec, err := e.pipeline.RollbackIssue(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Issue %d rolled back, %s restored\n", id, rec.FilePath)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [job-id]",
	Short: "Show recent patch attempts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jobID := ""
		if len(args) == 1 {
			jobID = args[0]
		}
		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		records, err := e.store.PatchHistory(ctx, jobID, limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No patches.")
			return nil
		}
		for _, r := range records {
			state := "applied"
			switch {
			case !r.Success:
				state = "failed"
			case r.RolledBack:
				state = "rolled back"
			}
			fmt.Printf("%s  issue %d  %s:%d %s  %s\n", r.AppliedAt.Format("2006-01-02 15:04:05"), r.IssueID,
				r.FilePath, r.LineNumber, r.Action, state)
			if r.ErrorMessage != "" {
				fmt.Printf("    %s\n", r.ErrorMessage)
			}
		}
		return nil
	},
}

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or reset the shared per-job circuit breaker",
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the failure count of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, closeFn, err := sharedBreaker()
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := b.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		state := "closed"
		if st.Tripped {
			state = "TRIPPED"
		}
		fmt.Printf("Job %s: %s, %d/%d failures\n", st.JobID, state, st.Failures, st.Threshold)
		return nil
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset <job-id>",
	Short: "Clear a tripped breaker so patching can resume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, closeFn, err := sharedBreaker()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := b.Reset(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Breaker for job %s reset\n", args[0])
		return nil
	},
}

func sharedBreaker() (breaker.Breaker, func(), error) {
	rdb, err := connectRedis()
	if err != nil {
		return nil, nil, err
	}
	return breaker.NewRedis(rdb, cfg.BreakerThreshold), func() { rdb.Close() }, nil
}

func queuePatches(ctx context.Context, e *env, args []string, issueID int64, op string) error {
	q := queue.New(e.rdb)
	var ids []int64
	jobID := ""
	if issueID != 0 {
		is, err := e.store.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		ids, jobID = []int64{is.ID}, is.JobID
	} else {
		jobID = args[0]
		issues, err := e.store.ListIssues(ctx, store.IssueFilter{JobID: jobID, Statuses: []seo.Status{seo.StatusApproved}})
		if err != nil {
			return err
		}
		for _, is := range issues {
			ids = append(ids, is.ID)
		}
	}
	for _, id := range ids {
		if _, err := q.PushPatch(ctx, queue.PatchRequest{JobID: jobID, IssueID: id, Op: op}); err != nil {
			return fmt.Errorf("queue issue %d: %w", id, err)
		}
	}
	fmt.Printf("%d %s request(s) queued on %s\n", len(ids), op, queue.StreamPatches)
	return nil
}

func printPatchError(issueID int64, err error) {
	var vf *patch.ValidationFailure
	if errors.As(err, &vf) && vf.Result != nil {
		fmt.Printf("Issue %d rolled back: tier %d validation failed (code %d)\n", issueID, vf.Result.Tier, vf.Result.Code)
		for _, d := range vf.Result.Details {
			if !d.Passed && d.Fix != "" {
				fmt.Printf("  Fix: %s\n", d.Fix)
			}
		}
	}
}

func init() {
	applyCmd.Flags().Int64("issue", 0, "Apply a single issue")
	applyCmd.Flags().Bool("queue", false, "Queue requests for workers instead of patching in-process")
	applyCmd.Flags().Bool("shared-breaker", false, "Use the Redis circuit breaker shared with workers")
	rollbackCmd.Flags().Bool("queue", false, "Queue the rollback for workers")
	historyCmd.Flags().Int("limit", 50, "Maximum number of records")

	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)
}
