package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

const (
	// StreamChunks carries chunks waiting for analysis.
	StreamChunks = "seo_chunk_tasks"
	// StreamPatches carries apply and rollback requests.
	StreamPatches = "seo_patch_requests"

	// GroupAnalyzer is the consumer group for analysis workers.
	GroupAnalyzer = "analyzer_pool"
	// GroupPatcher is the consumer group for patch workers.
	GroupPatcher = "patcher_pool"
)

// ErrNoMessage is returned when a read gives up without a message.
var ErrNoMessage = errors.New("no messages")

// Patch request operations.
const (
	OpApply    = "apply"
	OpRollback = "rollback"
)

// ChunkTask is the payload pushed to the chunk stream.
type ChunkTask struct {
	JobID string    `json:"job_id"`
	Chunk seo.Chunk `json:"chunk"`
}

// PatchRequest is the payload pushed to the patch stream.
type PatchRequest struct {
	JobID   string `json:"job_id"`
	IssueID int64  `json:"issue_id"`
	Op      string `json:"op"`
}

// Queue manages the Redis streams between the CLI and the workers.
type Queue struct {
	client *redis.Client
}

// New creates a Queue from a Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// EnsureStreams creates the consumer groups if they don't exist.
func (q *Queue) EnsureStreams(ctx context.Context) error {
	for _, pair := range []struct {
		stream, group string
	}{
		{StreamChunks, GroupAnalyzer},
		{StreamPatches, GroupPatcher},
	} {
		err := q.client.XGroupCreateMkStream(ctx, pair.stream, pair.group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", pair.group, pair.stream, err)
		}
	}
	return nil
}

// PushChunk adds a chunk to the analysis stream.
func (q *Queue) PushChunk(ctx context.Context, task ChunkTask) (string, error) {
	values, err := chunkValues(task)
	if err != nil {
		return "", err
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: StreamChunks, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("push chunk: %w", err)
	}
	return id, nil
}

// PushPatch adds an apply or rollback request to the patch stream.
func (q *Queue) PushPatch(ctx context.Context, req PatchRequest) (string, error) {
	if req.Op != OpApply && req.Op != OpRollback {
		return "", fmt.Errorf("push patch: unknown op %q", req.Op)
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: StreamPatches, Values: patchValues(req)}).Result()
	if err != nil {
		return "", fmt.Errorf("push patch: %w", err)
	}
	return id, nil
}

// ReadChunk reads one chunk task for consumer (blocking).
func (q *Queue) ReadChunk(ctx context.Context, consumer string) (*ChunkTask, string, error) {
	msg, err := q.readOne(ctx, StreamChunks, GroupAnalyzer, consumer)
	if err != nil {
		return nil, "", fmt.Errorf("read chunk: %w", err)
	}
	task, err := parseChunk(msg.Values)
	if err != nil {
		return nil, msg.ID, err
	}
	return task, msg.ID, nil
}

// ReadPatch reads one patch request for consumer (blocking).
func (q *Queue) ReadPatch(ctx context.Context, consumer string) (*PatchRequest, string, error) {
	msg, err := q.readOne(ctx, StreamPatches, GroupPatcher, consumer)
	if err != nil {
		return nil, "", fmt.Errorf("read patch: %w", err)
	}
	req, err := parsePatch(msg.Values)
	if err != nil {
		return nil, msg.ID, err
	}
	return req, msg.ID, nil
}

// readOne returns the oldest message delivered to consumer but not yet
// acknowledged, or else blocks for a new one.
func (q *Queue) readOne(ctx context.Context, stream, group, consumer string) (*redis.XMessage, error) {
	msg, err := q.read(ctx, stream, group, consumer, "0", -1)
	if !errors.Is(err, ErrNoMessage) {
		return msg, err
	}
	return q.read(ctx, stream, group, consumer, ">", 0)
}

// read runs XREADGROUP for one message. A negative block omits BLOCK.
func (q *Queue) read(ctx context.Context, stream, group, consumer, id string, block time.Duration) (*redis.XMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoMessage
		}
		return nil, err
	}
	for _, s := range streams {
		for _, msg := range s.Messages {
			return &msg, nil
		}
	}
	return nil, ErrNoMessage
}

// AckChunk acknowledges a chunk task.
func (q *Queue) AckChunk(ctx context.Context, msgID string) error {
	return q.client.XAck(ctx, StreamChunks, GroupAnalyzer, msgID).Err()
}

// AckPatch acknowledges a patch request.
func (q *Queue) AckPatch(ctx context.Context, msgID string) error {
	return q.client.XAck(ctx, StreamPatches, GroupPatcher, msgID).Err()
}

// Status returns message counts for both streams.
func (q *Queue) Status(ctx context.Context) (chunks, patches int64, err error) {
	chunksLen, err := q.client.XLen(ctx, StreamChunks).Result()
	if err != nil {
		return 0, 0, err
	}
	patchesLen, err := q.client.XLen(ctx, StreamPatches).Result()
	if err != nil {
		return 0, 0, err
	}
	return chunksLen, patchesLen, nil
}

func chunkValues(task ChunkTask) (map[string]any, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return map[string]any{
		"job_id":     task.JobID,
		"file_path":  task.Chunk.FilePath,
		"start_line": task.Chunk.StartLine,
		"payload":    string(payload),
	}, nil
}

func parseChunk(values map[string]any) (*ChunkTask, error) {
	var task ChunkTask
	if err := json.Unmarshal([]byte(getString(values, "payload")), &task); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	if task.Chunk.FilePath == "" {
		return nil, errors.New("decode chunk: missing file path")
	}
	return &task, nil
}

func patchValues(req PatchRequest) map[string]any {
	return map[string]any{
		"job_id":   req.JobID,
		"issue_id": strconv.FormatInt(req.IssueID, 10),
		"op":       req.Op,
	}
}

func parsePatch(values map[string]any) (*PatchRequest, error) {
	id, err := strconv.ParseInt(getString(values, "issue_id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode patch request: issue_id: %w", err)
	}
	req := &PatchRequest{JobID: getString(values, "job_id"), IssueID: id, Op: getString(values, "op")}
	if req.Op != OpApply && req.Op != OpRollback {
		return nil, fmt.Errorf("decode patch request: unknown op %q", req.Op)
	}
	return req, nil
}

func getString(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
