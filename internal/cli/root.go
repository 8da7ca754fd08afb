package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sbenjam1n/seopatch/internal/analyzer"
	"github.com/sbenjam1n/seopatch/internal/breaker"
	"github.com/sbenjam1n/seopatch/internal/chunker"
	"github.com/sbenjam1n/seopatch/internal/config"
	"github.com/sbenjam1n/seopatch/internal/db"
	"github.com/sbenjam1n/seopatch/internal/logger"
	"github.com/sbenjam1n/seopatch/internal/markup"
	"github.com/sbenjam1n/seopatch/internal/metrics"
	"github.com/sbenjam1n/seopatch/internal/patch"
	"github.com/sbenjam1n/seopatch/internal/pipeline"
	"github.com/sbenjam1n/seopatch/internal/queue"
	"github.com/sbenjam1n/seopatch/internal/store"
	"github.com/sbenjam1n/seopatch/internal/validator"
)

var (
	cfg     *config.Config
	log     *logger.Logger
	rootCmd = &cobra.Command{
		Use:   "seopatch",
		Short: "Patch-safe SEO auditing for HTML, PHP, JS and CSS sources",
		Long: `seopatch chunks a source tree, asks an AI analyzer for SEO fixes,
reconciles duplicate and conflicting proposals, and applies the approved
ones with a backup, validation and automatic rollback for every patch.

Typical session:
  seopatch init
  seopatch analyze ./site
  seopatch issues <job-id>
  seopatch approve <issue-id>
  seopatch apply <job-id>`,
		SilenceUsage: true,
	}
)

// Execute runs the root command. Commands stop when ctx is cancelled.
func Execute(ctx context.Context) error {
	defer func() {
		if log != nil {
			log.Sync()
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(breakerCmd)
	rootCmd.AddCommand(gardenerCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(workerCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log, err = logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
}

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w\nSet SEOPATCH_DATABASE_URL environment variable", err)
	}
	return pool, nil
}

func connectRedis() (*redis.Client, error) {
	rdb, err := queue.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w\nSet SEOPATCH_REDIS_URL environment variable", err)
	}
	return rdb, nil
}

func loadProfiles() (*markup.Profiles, error) {
	return markup.LoadProfiles(cfg.ProfilePath)
}

func newChunker(profiles *markup.Profiles) (*chunker.Chunker, error) {
	return chunker.New(cfg.Chunk, profiles)
}

func newAnalyzer() (*analyzer.Anthropic, error) {
	a, err := analyzer.NewAnthropic(cfg.AnthropicAPIKey, analyzer.AnthropicOptions{
		Model: cfg.Model,
		Site: analyzer.Site{
			URL:      cfg.SiteURL,
			Language: cfg.SiteLanguage,
			Keywords: cfg.Keywords,
		},
		Log: log,
	})
	if err != nil {
		return nil, fmt.Errorf("%w\nSet ANTHROPIC_API_KEY environment variable", err)
	}
	return a, nil
}

// env holds the components a command opened. close releases them.
type env struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	store    store.Store
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

func (e *env) close() {
	if e.rdb != nil {
		e.rdb.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

type envOptions struct {
	// memory keeps all state in process instead of PostgreSQL.
	memory   bool
	analyzer bool
	engine   bool
	// redis connects Redis and keeps the circuit breaker there.
	redis bool
}

func openEnv(ctx context.Context, opts envOptions) (*env, error) {
	e := &env{metrics: metrics.New()}
	if opts.memory {
		e.store = store.NewMemory()
	} else {
		pool, err := connectDB(ctx)
		if err != nil {
			return nil, err
		}
		e.pool = pool
		e.store = store.NewPostgres(pool)
	}
	if opts.redis {
		rdb, err := connectRedis()
		if err != nil {
			e.close()
			return nil, err
		}
		e.rdb = rdb
	}

	profiles, err := loadProfiles()
	if err != nil {
		e.close()
		return nil, err
	}
	ch, err := newChunker(profiles)
	if err != nil {
		e.close()
		return nil, err
	}

	popts := pipeline.Options{
		Store:         e.store,
		Chunker:       ch,
		Log:           log,
		Metrics:       e.metrics,
		MaxConcurrent: cfg.MaxConcurrent,
		Breaker:       breaker.NewMemory(cfg.BreakerThreshold),
	}
	if e.rdb != nil {
		popts.Breaker = breaker.NewRedis(e.rdb, cfg.BreakerThreshold)
	}
	if opts.analyzer {
		a, err := newAnalyzer()
		if err != nil {
			e.close()
			return nil, err
		}
		popts.Analyzer = a
	}
	if opts.engine {
		engine, err := patch.New(patch.Options{
			Root:      cfg.Workspace,
			Store:     e.store,
			Backups:   patch.NewDirBackups(cfg.BackupDir),
			Validator: validator.NewDefault(profiles),
			Locker:    e.locker(),
			Log:       log,
			Metrics:   e.metrics,
		})
		if err != nil {
			e.close()
			return nil, err
		}
		popts.Engine = engine
	}

	p, err := pipeline.New(popts)
	if err != nil {
		e.close()
		return nil, err
	}
	e.pipeline = p
	return e, nil
}

// locker serializes patches on a file within this process, across processes
// on this host and, with a database, across hosts.
func (e *env) locker() patch.Locker {
	chain := patch.Chain{patch.NewLocalLocks(), patch.NewFileLocks(cfg.LockDir, lockWait)}
	if e.pool != nil {
		chain = append(chain, store.NewAdvisoryLocks(e.pool))
	}
	return chain
}
