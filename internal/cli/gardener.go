package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/seopatch/internal/gardener"
	"github.com/sbenjam1n/seopatch/internal/patch"
)

var gardenerCmd = &cobra.Command{
	Use:   "gardener <job-id>",
	Short: "Sweep a job for drifted files, broken backups and stale reviews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		staleAfter, _ := cmd.Flags().GetDuration("stale-after")
		ctx := cmd.Context()

		e, err := openEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer e.close()

		g := gardener.New(cfg.Workspace, e.store, patch.NewDirBackups(cfg.BackupDir), staleAfter)
		findings, err := g.Sweep(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(findings)
		}
		if len(findings) == 0 {
			fmt.Println("Nothing to tend.")
			return nil
		}
		blocking := 0
		for _, f := range findings {
			mark := " "
			if f.Blocking {
				mark = "!"
				blocking++
			}
			fmt.Printf("%s %-16s %s\n", mark, f.Category, f.Description)
		}
		fmt.Printf("\n%d finding(s), %d blocking rollback\n", len(findings), blocking)
		return nil
	},
}

func init() {
	gardenerCmd.Flags().Bool("json", false, "Print findings as JSON")
	gardenerCmd.Flags().Duration("stale-after", gardener.DefaultStaleAfter, "Report conflicts older than this")
}
