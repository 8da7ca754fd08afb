package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbenjam1n/seopatch/internal/chunker"
	"github.com/sbenjam1n/seopatch/internal/db"
	"github.com/sbenjam1n/seopatch/internal/queue"
	"github.com/spf13/cobra"
)

var (
	migrationsDir string
	skipRedis     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the workspace, PostgreSQL schema and Redis streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		for _, dir := range []string{cfg.BackupDir, cfg.LockDir} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		fmt.Printf("Backups: %s\nLocks:   %s\n", cfg.BackupDir, cfg.LockDir)

		ignorePath := filepath.Join(cfg.Workspace, chunker.IgnoreFile)
		if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
			ignoreContent := `# .seopatchignore
# Glob patterns for sources that are never chunked or patched

vendor/**
node_modules/**
**/*.min.js
**/*.min.css
`
			if err := os.WriteFile(ignorePath, []byte(ignoreContent), 0644); err != nil {
				return fmt.Errorf("create %s: %w", chunker.IgnoreFile, err)
			}
			fmt.Println("Created " + chunker.IgnoreFile)
		} else {
			fmt.Println(chunker.IgnoreFile + " already exists")
		}

		fmt.Println("Connecting to PostgreSQL...")
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		fmt.Println("Running migrations...")
		if err := db.Migrate(ctx, pool, migrationsDir); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("PostgreSQL schema created")

		if skipRedis {
			return nil
		}

		fmt.Println("Connecting to Redis...")
		rdb, err := connectRedis()
		if err != nil {
			return err
		}
		defer rdb.Close()

		if err := queue.New(rdb).EnsureStreams(ctx); err != nil {
			return fmt.Errorf("redis stream setup failed: %w", err)
		}
		fmt.Println("Redis streams created")

		fmt.Println("\nseopatch initialized.")
		fmt.Println("Next: seopatch analyze <root>")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "Directory holding the SQL migrations")
	initCmd.Flags().BoolVar(&skipRedis, "no-redis", false, "Skip Redis stream setup")
}
