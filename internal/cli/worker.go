package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sbenjam1n/seopatch/internal/queue"
)

// lockWait bounds how long a patch waits for another process to release a file.
const lockWait = 30 * time.Second

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run analyzer and patcher workers against the Redis streams",
	Long: `Consume chunk tasks and patch requests from Redis until interrupted.
Workers share the circuit breaker through Redis and lock files across hosts
with PostgreSQL advisory locks. Prometheus metrics are served on
SEOPATCH_METRICS_ADDR.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzers, _ := cmd.Flags().GetInt("analyzers")
		patchers, _ := cmd.Flags().GetInt("patchers")
		if analyzers < 0 || patchers < 0 || analyzers+patchers == 0 {
			return fmt.Errorf("need at least one analyzer or patcher")
		}

		ctx := cmd.Context()
		e, err := openEnv(ctx, envOptions{analyzer: analyzers > 0, engine: patchers > 0, redis: true})
		if err != nil {
			return err
		}
		defer e.close()

		q := queue.New(e.rdb)
		if err := q.EnsureStreams(ctx); err != nil {
			return fmt.Errorf("redis stream setup failed: %w", err)
		}

		host, _ := os.Hostname()
		g, gctx := errgroup.WithContext(ctx)

		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(e), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		for i := 0; i < analyzers; i++ {
			name := fmt.Sprintf("%s-analyzer-%d", host, i)
			g.Go(func() error { return e.pipeline.ConsumeChunks(gctx, q, name) })
		}
		for i := 0; i < patchers; i++ {
			name := fmt.Sprintf("%s-patcher-%d", host, i)
			g.Go(func() error { return e.pipeline.ConsumePatches(gctx, q, name) })
		}

		log.Info("workers started", "analyzers", analyzers, "patchers", patchers, "metrics_addr", cfg.MetricsAddr)
		fmt.Println("Workers running. Press Ctrl+C to stop.")
		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		log.Info("workers stopped")
		return err
	},
}

func metricsMux(e *env) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func init() {
	workerCmd.Flags().Int("analyzers", 3, "Number of chunk analysis consumers")
	workerCmd.Flags().Int("patchers", 1, "Number of patch consumers")
}
