package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sbenjam1n/seopatch/internal/queue"
	"github.com/sbenjam1n/seopatch/internal/seo"
)

// readRetryDelay spaces out reads after a queue error.
const readRetryDelay = 500 * time.Millisecond

// chunkDeliveries bounds how often one chunk is taken from the queue when its
// results cannot be stored. A chunk given up on keeps its file unreconciled,
// so none of the file's issues can be approved.
const chunkDeliveries = 5

// ChunkSource delivers queued chunk tasks.
type ChunkSource interface {
	ReadChunk(ctx context.Context, consumer string) (*queue.ChunkTask, string, error)
	AckChunk(ctx context.Context, msgID string) error
}

// ChunkSink accepts chunk tasks.
type ChunkSink interface {
	PushChunk(ctx context.Context, task queue.ChunkTask) (string, error)
}

// PatchSource delivers queued apply and rollback requests.
type PatchSource interface {
	ReadPatch(ctx context.Context, consumer string) (*queue.PatchRequest, string, error)
	AckPatch(ctx context.Context, msgID string) error
}

// Submit starts a job for root and queues its chunks for the workers.
func (p *Pipeline) Submit(ctx context.Context, sink ChunkSink, root string, patterns []string) (*seo.Job, error) {
	job, chunks, err := p.StartJob(ctx, root, patterns)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if _, err := sink.PushChunk(ctx, queue.ChunkTask{JobID: job.ID, Chunk: c}); err != nil {
			return job, fmt.Errorf("queue chunk %s:%d: %w", c.FilePath, c.StartLine, err)
		}
	}
	return job, nil
}

// ConsumeChunks blocks on the chunk stream, analyzing chunks as they arrive.
// A file is reconciled by whichever worker stores its last chunk. A chunk
// that fails on the store is left unacknowledged, so the source delivers it
// again.
func (p *Pipeline) ConsumeChunks(ctx context.Context, src ChunkSource, consumer string) error {
	deliveries := map[string]int{}
	for {
		task, msgID, err := src.ReadChunk(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("chunk read error", "consumer", consumer, "error", err)
			if msgID != "" {
				// Undecodable message: drop it rather than redeliver forever.
				_ = src.AckChunk(ctx, msgID)
				continue
			}
			if !sleep(ctx, readRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		if _, err := p.HandleChunk(ctx, task.JobID, task.Chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			deliveries[msgID]++
			log := p.log.With("job_id", task.JobID, "file", task.Chunk.FilePath, "start", task.Chunk.StartLine,
				"msg_id", msgID, "delivery", deliveries[msgID])
			if deliveries[msgID] < chunkDeliveries {
				log.Warn("chunk failed, leaving it for redelivery", "error", err)
				if !sleep(ctx, p.retryInterval) {
					return ctx.Err()
				}
				continue
			}
			log.Error("chunk failed, giving up", "error", err)
		}
		delete(deliveries, msgID)
		if err := src.AckChunk(ctx, msgID); err != nil {
			p.log.Warn("chunk ack failed", "msg_id", msgID, "error", err)
		}
	}
}

// ConsumePatches blocks on the patch stream, applying and rolling back
// issues as requests arrive.
func (p *Pipeline) ConsumePatches(ctx context.Context, src PatchSource, consumer string) error {
	for {
		req, msgID, err := src.ReadPatch(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("patch read error", "consumer", consumer, "error", err)
			if msgID != "" {
				_ = src.AckPatch(ctx, msgID)
				continue
			}
			if !sleep(ctx, readRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		switch req.Op {
		case queue.OpRollback:
			_, err = p.RollbackIssue(ctx, req.IssueID)
		default:
			_, err = p.ApplyIssue(ctx, req.IssueID)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("patch request failed", "op", req.Op, "issue_id", req.IssueID, "error", err)
		}
		if err := src.AckPatch(ctx, msgID); err != nil {
			p.log.Warn("patch ack failed", "msg_id", msgID, "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
