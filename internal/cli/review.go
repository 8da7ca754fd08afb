package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
)

var issuesCmd = &cobra.Command{
	Use:   "issues <job-id>",
	Short: "List the issues of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		file, _ := cmd.Flags().GetString("file")
		statuses, _ := cmd.Flags().GetStringSlice("status")

		filter := store.IssueFilter{JobID: args[0], FilePath: file}
		for _, s := range statuses {
			st := seo.Status(s)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", s)
			}
			filter.Statuses = append(filter.Statuses, st)
		}

		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		issues, err := e.store.ListIssues(ctx, filter)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(issues)
		}
		printIssues(issues)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <issue-id>",
	Short: "Approve a pending issue for patching",
	Long: `Approve a pending issue. Code that still contains {{PLACEHOLDER}} tokens is
refused. Supply the final code with --code to edit the proposal while approving.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var code *string
		if cmd.Flags().Changed("code") {
			c, _ := cmd.Flags().GetString("code")
			code = &c
		}

		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		is, err := e.pipeline.Approve(ctx, id, code)
		if err != nil {
			return err
		}
		fmt.Printf("Issue %d approved: %s:%d %s\n", is.ID, is.FilePath, is.LineNumber, is.Action)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <issue-id>",
	Short: "Reject an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		if _, err := e.pipeline.Reject(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Issue %d rejected\n", id)
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts <job-id>",
	Short: "List competing line replacements awaiting a decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		issues, err := e.pipeline.Conflicts(ctx, args[0])
		if err != nil {
			return err
		}
		if len(issues) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}
		for _, is := range issues {
			fmt.Printf("%d  %s:%d  [%s] %s\n", is.ID, is.FilePath, is.LineNumber, is.Severity, is.Reason)
			fmt.Printf("    code: %s\n", oneLine(is.Code))
			fmt.Printf("    competes with: %v\n", is.ConflictWith)
		}
		fmt.Println("\nPick one with: seopatch conflicts resolve <issue-id>")
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <winner-issue-id>",
	Short: "Keep one replacement and reject its competitors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		changed, err := e.pipeline.ResolveConflict(ctx, id)
		if err != nil {
			return err
		}
		for _, is := range changed {
			fmt.Printf("  %d -> %s\n", is.ID, is.Status)
		}
		return nil
	},
}

func printIssues(issues []seo.Issue) {
	if len(issues) == 0 {
		fmt.Println("No issues.")
		return
	}
	for _, is := range issues {
		review := ""
		if is.ReviewRequired {
			review = "  REVIEW"
		}
		fmt.Printf("%d  %-11s %s:%d  %s/%s [%s %.2f]%s\n", is.ID, is.Status, is.FilePath, is.LineNumber,
			is.IssueType, is.Action, is.Severity, is.Confidence, review)
		if is.Reason != "" {
			fmt.Printf("    %s\n", is.Reason)
		}
		fmt.Printf("    code: %s\n", oneLine(is.Code))
	}
	fmt.Printf("\n%d issue(s)\n", len(issues))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid issue id %q", s)
	}
	return id, nil
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

func init() {
	issuesCmd.Flags().Bool("json", false, "Print issues as JSON")
	issuesCmd.Flags().String("file", "", "Only issues for this file")
	issuesCmd.Flags().StringSlice("status", nil, "Only issues in these statuses")
	approveCmd.Flags().String("code", "", "Replacement code to approve instead of the proposal")

	conflictsCmd.AddCommand(conflictsResolveCmd)
}
