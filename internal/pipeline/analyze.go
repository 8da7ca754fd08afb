package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sbenjam1n/seopatch/internal/analyzer"
	"github.com/sbenjam1n/seopatch/internal/issue"
	"github.com/sbenjam1n/seopatch/internal/seo"
)

// ChunkResult is the outcome of analyzing one chunk.
type ChunkResult struct {
	Chunk   seo.Chunk
	Issues  []seo.Issue
	Dropped []error
	// Err is the analysis error left after every attempt. The chunk still
	// counts as done so its file can be reconciled.
	Err error
	// Reconciled is set when this chunk was the last of its file.
	Reconciled *seo.ConflictSummary
}

// AnalyzeReport summarizes an analysis run.
type AnalyzeReport struct {
	JobID        string
	Chunks       int
	FailedChunks int
	Issues       int
	Dropped      int
	Reconciled   map[string]seo.ConflictSummary
}

func (r *AnalyzeReport) add(res *ChunkResult) {
	r.Chunks++
	if res.Err != nil {
		r.FailedChunks++
	}
	r.Issues += len(res.Issues)
	r.Dropped += len(res.Dropped)
	if res.Reconciled != nil {
		r.Reconciled[res.Chunk.FilePath] = *res.Reconciled
	}
}

// StartJob creates a job for the source tree at root and records its chunks.
func (p *Pipeline) StartJob(ctx context.Context, root string, patterns []string) (*seo.Job, []seo.Chunk, error) {
	chunks, err := p.chunker.ChunkTree(ctx, root, patterns)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk %s: %w", root, err)
	}
	job := &seo.Job{ID: uuid.NewString(), Root: root}
	for i := range chunks {
		chunks[i].JobID = job.ID
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}
	if len(chunks) > 0 {
		if err := p.store.AddChunks(ctx, job.ID, chunks); err != nil {
			return nil, nil, fmt.Errorf("record chunks: %w", err)
		}
	}
	job.TotalChunks = len(chunks)
	p.log.Info("job started", "job_id", job.ID, "root", root, "chunks", len(chunks))
	return job, chunks, nil
}

// Analyze chunks the tree at root and analyzes it in-process.
func (p *Pipeline) Analyze(ctx context.Context, root string, patterns []string) (*AnalyzeReport, error) {
	if p.analyzer == nil {
		return nil, errNoAnalyzer
	}
	job, chunks, err := p.StartJob(ctx, root, patterns)
	if err != nil {
		return nil, err
	}
	return p.AnalyzeChunks(ctx, job.ID, chunks)
}

// AnalyzeChunks analyzes chunks of a started job, at most MaxConcurrent at a
// time. Each file is reconciled as soon as its last chunk is stored.
func (p *Pipeline) AnalyzeChunks(ctx context.Context, jobID string, chunks []seo.Chunk) (*AnalyzeReport, error) {
	if p.analyzer == nil {
		return nil, errNoAnalyzer
	}
	report := &AnalyzeReport{JobID: jobID, Reconciled: map[string]seo.ConflictSummary{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for _, c := range chunks {
		g.Go(func() error {
			res, err := p.HandleChunk(gctx, jobID, c)
			if err != nil {
				return err
			}
			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	p.log.Info("analysis finished", "job_id", jobID, "chunks", report.Chunks,
		"failed_chunks", report.FailedChunks, "issues", report.Issues, "dropped", report.Dropped)
	return report, err
}

// HandleChunk analyzes one chunk, stores the issues that survive
// normalization and marks the chunk done. The caller that completes a file
// reconciles it. Only store failures and cancellation are returned as errors.
func (p *Pipeline) HandleChunk(ctx context.Context, jobID string, c seo.Chunk) (*ChunkResult, error) {
	if p.analyzer == nil {
		return nil, errNoAnalyzer
	}
	c.JobID = jobID
	res := &ChunkResult{Chunk: c}
	log := p.log.With("job_id", jobID, "file", c.FilePath, "start", c.StartLine, "end", c.EndLine)

	raw, err := p.analyzeWithRetry(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.Err = err
		p.metrics.Chunk("error")
		log.Warn("chunk analysis failed", "error", err)
	} else {
		p.metrics.Chunk("ok")
		issues, dropped := issue.Normalize(raw, c)
		for _, d := range dropped {
			p.metrics.Drop(dropReason(d))
			log.Debug("proposal dropped", "error", d)
		}
		res.Dropped = dropped
		if len(issues) > 0 {
			created, err := p.store.CreateIssues(ctx, issues)
			if err != nil {
				return nil, fmt.Errorf("store issues for %s:%d: %w", c.FilePath, c.StartLine, err)
			}
			res.Issues = created
		}
	}

	remaining, err := p.store.MarkChunkAnalyzed(ctx, jobID, c.FilePath, c.StartLine)
	if err != nil {
		return nil, fmt.Errorf("mark chunk %s:%d: %w", c.FilePath, c.StartLine, err)
	}
	if remaining == 0 {
		summary, err := p.ReconcileFile(ctx, jobID, c.FilePath)
		if err != nil {
			return nil, err
		}
		res.Reconciled = &summary
	}
	return res, nil
}

func (p *Pipeline) analyzeWithRetry(ctx context.Context, c seo.Chunk) ([]seo.RawProposal, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxAttempts-1)), ctx)

	var out []seo.RawProposal
	err := backoff.RetryNotify(func() error {
		res, err := p.analyzer.Analyze(ctx, c)
		if err != nil {
			if !analyzer.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}, policy, func(err error, wait time.Duration) {
		p.log.Warn("chunk analysis failed, retrying", "file", c.FilePath, "start", c.StartLine, "wait", wait.String(), "error", err)
	})
	return out, err
}

func dropReason(err error) string {
	var unknown *issue.UnknownActionError
	if errors.As(err, &unknown) {
		return "unknown_action"
	}
	var rejected *issue.RejectedProposalError
	if errors.As(err, &rejected) {
		return "invalid_" + rejected.Field
	}
	return "invalid"
}
