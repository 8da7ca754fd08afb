package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/seopatch/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Run the post-patch validation tiers against files",
	Long: `Run the checks every patch must pass: tier 0 structural integrity
(singleton tags, balanced blocks), tier 1 JSON-LD, and tier 2 language linters.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := loadProfiles()
		if err != nil {
			return err
		}
		v := validator.NewDefault(profiles)
		ctx := cmd.Context()

		failed := 0
		for _, path := range args {
			full := path
			if !filepath.IsAbs(full) {
				full = filepath.Join(cfg.Workspace, path)
			}
			content, err := os.ReadFile(full)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			result := v.Validate(ctx, full, content)
			if result.Passed {
				fmt.Printf("PASS %s\n", path)
				continue
			}
			failed++
			fmt.Printf("FAIL %s: tier %d (code %d) %s\n", path, result.Tier, result.Code, result.Message)
			for _, d := range result.Details {
				if !d.Passed && d.Fix != "" {
					fmt.Printf("  Fix: %s\n", d.Fix)
				}
			}
		}

		fmt.Printf("\n%d passed, %d failed\n", len(args)-failed, failed)
		if failed > 0 {
			return fmt.Errorf("validation failed for %d file(s)", failed)
		}
		return nil
	},
}
