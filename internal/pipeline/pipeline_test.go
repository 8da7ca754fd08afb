package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbenjam1n/seopatch/internal/analyzer"
	"github.com/sbenjam1n/seopatch/internal/breaker"
	"github.com/sbenjam1n/seopatch/internal/dedup"
	"github.com/sbenjam1n/seopatch/internal/metrics"
	"github.com/sbenjam1n/seopatch/internal/patch"
	"github.com/sbenjam1n/seopatch/internal/queue"
	"github.com/sbenjam1n/seopatch/internal/seo"
	"github.com/sbenjam1n/seopatch/internal/store"
	"github.com/sbenjam1n/seopatch/internal/validator"
)

const page = `<html>
<head>
<title>Home</title>
</head>
<body>
<h1>Welcome</h1>
<img src="hero.jpg">
</body>
</html>
`

type harness struct {
	root     string
	store    *store.Memory
	metrics  *metrics.Metrics
	pipeline *Pipeline
}

func newHarness(t *testing.T, files map[string]string, a analyzer.Analyzer, b breaker.Breaker) *harness {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}
	h := &harness{root: root, store: store.NewMemory(), metrics: metrics.New()}
	engine, err := patch.New(patch.Options{
		Root:      root,
		Store:     h.store,
		Backups:   patch.NewDirBackups(filepath.Join(t.TempDir(), "backups")),
		Validator: validator.New(nil),
		Metrics:   h.metrics,
	})
	require.NoError(t, err)
	p, err := New(Options{
		Store:         h.store,
		Analyzer:      a,
		Engine:        engine,
		Breaker:       b,
		Metrics:       h.metrics,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func (h *harness) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.root, name))
	require.NoError(t, err)
	return string(data)
}

func (h *harness) byCode(t *testing.T, jobID string) map[string]seo.Issue {
	t.Helper()
	issues, err := h.store.ListIssues(context.Background(), store.IssueFilter{JobID: jobID})
	require.NoError(t, err)
	out := map[string]seo.Issue{}
	for _, is := range issues {
		out[is.Code] = is
	}
	return out
}

func proposal(line int, action, typ, sev, code string, confidence float64) seo.RawProposal {
	return seo.RawProposal{Type: typ, Line: line, Action: action, Code: code, Reason: "r", Severity: sev, Confidence: confidence}
}

func fixed(props ...seo.RawProposal) analyzer.Func {
	return func(context.Context, seo.Chunk) ([]seo.RawProposal, error) { return props, nil }
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestAnalyzeNormalizesAndReconciles(t *testing.T) {
	a := fixed(
		proposal(3, "insert_after_line", "meta_issue", "high", "meta-high", 0.9),
		proposal(3, "insert_after_line", "meta_issue", "critical", "meta-critical", 0.9),
		proposal(6, "replace_line", "h_tag_issue", "medium", "<h1>Welcome to Example</h1>", 0.8),
		proposal(6, "replace_line", "h_tag_issue", "low", "<h1>Example Home</h1>", 0.8),
		proposal(7, "replace_line", "image_alt_missing", "medium", "alt-fix", 0.5),
		proposal(2, "delete_line", "meta_issue", "low", "bad-action", 0.9),
		proposal(99, "annotate", "meta_issue", "low", "bad-line", 0.9),
	)
	h := newHarness(t, map[string]string{"index.html": page}, a, nil)

	report, err := h.pipeline.Analyze(context.Background(), h.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 5, report.Issues)
	assert.Equal(t, 2, report.Dropped)
	require.Contains(t, report.Reconciled, "index.html")
	assert.Equal(t, 1, report.Reconciled["index.html"].Superseded)
	assert.Equal(t, 2, report.Reconciled["index.html"].Conflicts)

	got := h.byCode(t, report.JobID)
	assert.Equal(t, seo.StatusPending, got["meta-critical"].Status)
	assert.Equal(t, seo.StatusSuperseded, got["meta-high"].Status)
	first, second := got["<h1>Welcome to Example</h1>"], got["<h1>Example Home</h1>"]
	assert.Equal(t, seo.StatusConflict, first.Status)
	assert.Equal(t, []int64{second.ID}, first.ConflictWith)
	assert.Equal(t, []int64{first.ID}, second.ConflictWith)
	assert.True(t, got["alt-fix"].ReviewRequired)
	assert.Equal(t, seo.StatusPending, got["alt-fix"].Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Dropped.WithLabelValues("unknown_action")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Dropped.WithLabelValues("invalid_line")))

	job, err := h.store.GetJob(context.Background(), report.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.TotalChunks)
	assert.Equal(t, 1, job.AnalyzedChunks)
}

func numberedFile(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	return sb.String()
}

func TestOverlapDuplicatesCollapseAfterLastChunk(t *testing.T) {
	var calls int32
	a := analyzer.Func(func(_ context.Context, c seo.Chunk) ([]seo.RawProposal, error) {
		atomic.AddInt32(&calls, 1)
		if !c.Contains(170) {
			return nil, nil
		}
		sev := "high"
		if c.StartLine > 1 {
			sev = "critical"
		}
		return []seo.RawProposal{proposal(170, "annotate", "performance_hint", sev, sev, 0.9)}, nil
	})
	h := newHarness(t, map[string]string{"long.html": numberedFile(400)}, a, nil)

	report, err := h.pipeline.Analyze(context.Background(), h.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, report.Reconciled, 1, "the file is reconciled once")

	got := h.byCode(t, report.JobID)
	assert.Equal(t, seo.StatusPending, got["critical"].Status)
	assert.Equal(t, seo.StatusSuperseded, got["high"].Status)
}

func TestAnalyzeRetriesTransientErrors(t *testing.T) {
	var calls int32
	a := analyzer.Func(func(context.Context, seo.Chunk) ([]seo.RawProposal, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection reset")
		}
		return []seo.RawProposal{proposal(3, "annotate", "meta_issue", "low", "note", 0.9)}, nil
	})
	h := newHarness(t, map[string]string{"index.html": page}, a, nil)

	report, err := h.pipeline.Analyze(context.Background(), h.root, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, 0, report.FailedChunks)
	assert.Equal(t, 1, report.Issues)
}

func TestAnalyzeFailedChunkStillCompletesFile(t *testing.T) {
	var calls int32
	a := analyzer.Func(func(context.Context, seo.Chunk) ([]seo.RawProposal, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fmt.Errorf("bad reply: %w", analyzer.ErrChunkMismatch)
	})
	h := newHarness(t, map[string]string{"index.html": page}, a, nil)

	report, err := h.pipeline.Analyze(context.Background(), h.root, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls, "permanent errors are not retried")
	assert.Equal(t, 1, report.FailedChunks)
	assert.Contains(t, report.Reconciled, "index.html")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Chunks.WithLabelValues("error")))
}

func TestAnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := analyzer.Func(func(ctx context.Context, _ seo.Chunk) ([]seo.RawProposal, error) {
		cancel()
		return nil, ctx.Err()
	})
	h := newHarness(t, map[string]string{"index.html": page}, a, nil)
	_, err := h.pipeline.Analyze(ctx, h.root, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcileJobIsIdempotent(t *testing.T) {
	a := fixed(
		proposal(3, "insert_after_line", "meta_issue", "high", "a", 0.9),
		proposal(3, "insert_after_line", "meta_issue", "low", "b", 0.9),
		proposal(6, "replace_line", "h_tag_issue", "low", "c", 0.9),
		proposal(6, "replace_line", "h_tag_issue", "low", "d", 0.9),
	)
	h := newHarness(t, map[string]string{"index.html": page}, a, nil)
	report, err := h.pipeline.Analyze(context.Background(), h.root, nil)
	require.NoError(t, err)
	before := h.byCode(t, report.JobID)

	summary, err := h.pipeline.ReconcileJob(context.Background(), report.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Transitions)
	assert.Equal(t, before, h.byCode(t, report.JobID))
}

func seed(t *testing.T, h *harness, issues ...seo.Issue) []seo.Issue {
	t.Helper()
	for i := range issues {
		if issues[i].JobID == "" {
			issues[i].JobID = "job"
		}
		if issues[i].Severity == "" {
			issues[i].Severity = seo.SeverityMedium
		}
		if issues[i].IssueType == "" {
			issues[i].IssueType = seo.TypeMetaIssue
		}
	}
	created, err := h.store.CreateIssues(context.Background(), issues)
	require.NoError(t, err)
	return created
}

func TestApproveAndReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil, nil)
	issues := seed(t, h,
		seo.Issue{FilePath: "a.html", LineNumber: 1, Action: seo.ActionAnnotate, Code: "ok", Status: seo.StatusPending},
		seo.Issue{FilePath: "a.html", LineNumber: 2, Action: seo.ActionReplaceLine, Code: `<meta content="{{DESCRIPTION}}">`, Status: seo.StatusPending},
		seo.Issue{FilePath: "a.html", LineNumber: 3, Action: seo.ActionAnnotate, Code: "gone", Status: seo.StatusSuperseded},
	)

	_, err := h.pipeline.Approve(ctx, issues[0].ID, nil)
	assert.ErrorIs(t, err, ErrNotReconciled)
	_, err = h.pipeline.ReconcileFile(ctx, "job", "a.html")
	require.NoError(t, err)

	got, err := h.pipeline.Approve(ctx, issues[0].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, seo.StatusApproved, got.Status)

	_, err = h.pipeline.Approve(ctx, issues[1].ID, nil)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholders)
	edited := `<meta name="description" content="Handmade office pods">`
	got, err = h.pipeline.Approve(ctx, issues[1].ID, &edited)
	require.NoError(t, err)
	stored, _ := h.store.GetIssue(ctx, issues[1].ID)
	assert.Equal(t, edited, stored.Code)
	assert.Equal(t, seo.StatusApproved, stored.Status)

	_, err = h.pipeline.Approve(ctx, issues[2].ID, nil)
	assert.ErrorIs(t, err, seo.ErrIllegalTransition)

	got, err = h.pipeline.Reject(ctx, issues[0].ID)
	require.NoError(t, err)
	assert.Equal(t, seo.StatusRejected, got.Status)
	_, err = h.pipeline.Reject(ctx, issues[0].ID)
	assert.ErrorIs(t, err, seo.ErrIllegalTransition)

	_, err = h.pipeline.Approve(ctx, 999, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApproveWaitsForLastChunk(t *testing.T) {
	ctx := context.Background()
	a := analyzer.Func(func(_ context.Context, c seo.Chunk) ([]seo.RawProposal, error) {
		if c.StartLine != 1 {
			return nil, nil
		}
		return []seo.RawProposal{proposal(10, "annotate", "meta_issue", "low", "early", 0.9)}, nil
	})
	h := newHarness(t, map[string]string{"long.html": numberedFile(400)}, a, nil)
	job, chunks, err := h.pipeline.StartJob(ctx, h.root, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	res, err := h.pipeline.HandleChunk(ctx, job.ID, chunks[0])
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	early := res.Issues[0].ID

	// a manual reconcile does not make the file ready while chunks are out
	_, err = h.pipeline.ReconcileFile(ctx, job.ID, "long.html")
	require.NoError(t, err)
	_, err = h.pipeline.Approve(ctx, early, nil)
	assert.ErrorIs(t, err, ErrNotReconciled)

	for _, c := range chunks[1:] {
		_, err := h.pipeline.HandleChunk(ctx, job.ID, c)
		require.NoError(t, err)
	}
	got, err := h.pipeline.Approve(ctx, early, nil)
	require.NoError(t, err)
	assert.Equal(t, seo.StatusApproved, got.Status)
}

func TestNewIssuesClearReconciledMark(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil, nil)
	first := seed(t, h, seo.Issue{FilePath: "a.html", LineNumber: 1, Action: seo.ActionAnnotate, Code: "one", Status: seo.StatusPending})
	_, err := h.pipeline.ReconcileFile(ctx, "job", "a.html")
	require.NoError(t, err)

	seed(t, h, seo.Issue{FilePath: "a.html", LineNumber: 4, Action: seo.ActionAnnotate, Code: "two", Status: seo.StatusPending})
	_, err = h.pipeline.Approve(ctx, first[0].ID, nil)
	assert.ErrorIs(t, err, ErrNotReconciled)

	_, err = h.pipeline.ReconcileFile(ctx, "job", "a.html")
	require.NoError(t, err)
	_, err = h.pipeline.Approve(ctx, first[0].ID, nil)
	assert.NoError(t, err)
}

func TestLateReplacementConflictsWithApproved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil, nil)
	x := seed(t, h, seo.Issue{FilePath: "a.html", LineNumber: 6, Action: seo.ActionReplaceLine, Code: "<p>X</p>", Status: seo.StatusPending})[0]
	_, err := h.pipeline.ReconcileFile(ctx, "job", "a.html")
	require.NoError(t, err)
	_, err = h.pipeline.Approve(ctx, x.ID, nil)
	require.NoError(t, err)

	y := seed(t, h, seo.Issue{FilePath: "a.html", LineNumber: 6, Action: seo.ActionReplaceLine, Code: "<p>Y</p>", Status: seo.StatusPending})[0]
	summary, err := h.pipeline.ReconcileFile(ctx, "job", "a.html")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Conflicts)
	assert.Zero(t, summary.Superseded)

	got := h.byCode(t, "job")
	assert.Equal(t, seo.StatusConflict, got["<p>X</p>"].Status)
	assert.Equal(t, seo.StatusConflict, got["<p>Y</p>"].Status)
	assert.Equal(t, []int64{y.ID}, got["<p>X</p>"].ConflictWith)
	assert.Equal(t, []int64{x.ID}, got["<p>Y</p>"].ConflictWith)
}

func TestResolveConflict(t *testing.T) {
	ctx := context.Background()
	a := fixed(
		proposal(6, "replace_line", "h_tag_issue", "low", "<h1>One</h1>", 0.9),
		proposal(6, "replace_line", "h_tag_issue", "low", "<h1>Two</h1>", 0.9),
		proposal(6, "replace_line", "h_tag_issue", "low", "<h1>Three</h1>", 0.9),
	)
	h := newHarness(t, map[string]string{"index.html": page}, a, nil)
	report, err := h.pipeline.Analyze(ctx, h.root, nil)
	require.NoError(t, err)

	conflicts, err := h.pipeline.Conflicts(ctx, report.JobID)
	require.NoError(t, err)
	require.Len(t, conflicts, 3)

	winner := h.byCode(t, report.JobID)["<h1>Two</h1>"]
	changed, err := h.pipeline.ResolveConflict(ctx, winner.ID)
	require.NoError(t, err)
	assert.Len(t, changed, 3)

	got := h.byCode(t, report.JobID)
	assert.Equal(t, seo.StatusPending, got["<h1>Two</h1>"].Status)
	assert.Equal(t, seo.StatusRejected, got["<h1>One</h1>"].Status)
	assert.Equal(t, seo.StatusRejected, got["<h1>Three</h1>"].Status)

	_, err = h.pipeline.ResolveConflict(ctx, winner.ID)
	assert.ErrorIs(t, err, dedup.ErrNotInConflict)

	summary, err := h.pipeline.ReconcileJob(ctx, report.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Transitions, "a resolved line stays resolved")
}

func TestSortForApply(t *testing.T) {
	issues := []seo.Issue{
		{ID: 1, LineNumber: 3, Action: seo.ActionInsertAfterLine},
		{ID: 2, LineNumber: 9, Action: seo.ActionAnnotate},
		{ID: 3, LineNumber: 3, Action: seo.ActionReplaceLine},
		{ID: 4, LineNumber: 3, Action: seo.ActionAnnotate},
		{ID: 5, LineNumber: 1, Action: seo.ActionReplaceLine},
	}
	SortForApply(issues)
	var ids []int64
	for _, is := range issues {
		ids = append(ids, is.ID)
	}
	assert.Equal(t, []int64{2, 3, 1, 4, 5}, ids)
}

func TestApplyApproved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"index.html": page, "about.html": page}, nil, nil)
	seed(t, h,
		seo.Issue{FilePath: "index.html", LineNumber: 3, Action: seo.ActionInsertAfterLine, Code: `<meta name="description" content="Office pods">`, Status: seo.StatusApproved},
		seo.Issue{FilePath: "index.html", LineNumber: 3, Action: seo.ActionReplaceLine, Code: "<title>Office Pods | Example</title>", Status: seo.StatusApproved},
		seo.Issue{FilePath: "index.html", LineNumber: 7, Action: seo.ActionReplaceLine, Code: `<img src="hero.jpg" alt="Office pod">`, Status: seo.StatusApproved},
		seo.Issue{FilePath: "about.html", LineNumber: 6, Action: seo.ActionAnnotate, Code: "heading is generic", Status: seo.StatusApproved},
		seo.Issue{FilePath: "about.html", LineNumber: 6, Action: seo.ActionAnnotate, Code: "pending stays", Status: seo.StatusPending},
	)

	report, err := h.pipeline.ApplyApproved(ctx, "job")
	require.NoError(t, err)
	assert.Len(t, report.Applied, 4)
	assert.Empty(t, report.Failed)
	assert.False(t, report.Tripped)

	want := `<html>
<head>
<title>Office Pods | Example</title>
<meta name="description" content="Office pods">
</head>
<body>
<h1>Welcome</h1>
<img src="hero.jpg" alt="Office pod">
</body>
</html>
`
	assert.Equal(t, want, h.read(t, "index.html"))
	assert.Contains(t, h.read(t, "about.html"), "<h1>Welcome</h1>\n<!-- SEO NOTE: heading is generic -->\n")
	assert.NotContains(t, h.read(t, "about.html"), "pending stays")
}

func TestApplyApprovedTripsBreaker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"index.html": page}, nil, breaker.NewMemory(2))
	issues := seed(t, h,
		seo.Issue{FilePath: "index.html", LineNumber: 2, Action: seo.ActionAnnotate, Code: "good", Status: seo.StatusApproved},
		seo.Issue{FilePath: "index.html", LineNumber: 97, Action: seo.ActionAnnotate, Code: "x", Status: seo.StatusApproved},
		seo.Issue{FilePath: "index.html", LineNumber: 98, Action: seo.ActionAnnotate, Code: "x", Status: seo.StatusApproved},
		seo.Issue{FilePath: "index.html", LineNumber: 99, Action: seo.ActionAnnotate, Code: "x", Status: seo.StatusApproved},
	)

	report, err := h.pipeline.ApplyApproved(ctx, "job")
	require.NoError(t, err)
	assert.True(t, report.Tripped)
	assert.Len(t, report.Failed, 2)
	assert.Contains(t, report.Failed, issues[3].ID)
	assert.Contains(t, report.Failed, issues[2].ID)
	assert.Equal(t, []int64{issues[0].ID, issues[1].ID}, report.Skipped)
	assert.Equal(t, page, h.read(t, "index.html"))

	skipped, _ := h.store.GetIssue(ctx, issues[0].ID)
	assert.Equal(t, seo.StatusApproved, skipped.Status, "skipped issues stay approved")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BreakerTrips))

	_, err = h.pipeline.ApplyIssue(ctx, issues[0].ID)
	assert.ErrorIs(t, err, ErrBreakerTripped)

	require.NoError(t, h.pipeline.ResetBreaker(ctx, "job"))
	rec, err := h.pipeline.ApplyIssue(ctx, issues[0].ID)
	require.NoError(t, err)
	assert.True(t, rec.Success)
}

func TestApplyIssueAndRollback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"index.html": page}, nil, nil)
	issues := seed(t, h, seo.Issue{FilePath: "index.html", LineNumber: 3, Action: seo.ActionAnnotate, Code: "short title", Status: seo.StatusApproved})

	_, err := h.pipeline.ApplyIssue(ctx, issues[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, page, h.read(t, "index.html"))

	rec, err := h.pipeline.RollbackIssue(ctx, issues[0].ID)
	require.NoError(t, err)
	assert.True(t, rec.RolledBack)
	assert.Equal(t, page, h.read(t, "index.html"))
}

func TestPipelineWithoutEngineOrAnalyzer(t *testing.T) {
	p, err := New(Options{Store: store.NewMemory()})
	require.NoError(t, err)
	_, err = p.ApplyApproved(context.Background(), "job")
	assert.Error(t, err)
	_, err = p.Analyze(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}

// fakeQueue hands out unacknowledged chunks again before new ones, like a
// consumer reading its pending entries.
type fakeQueue struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	chunks   []queue.ChunkTask
	patches  []queue.PatchRequest
	inFlight map[string]queue.ChunkTask
	order    []string
	acked    []string
	n        int
}

func (q *fakeQueue) nextID() string {
	q.n++
	return fmt.Sprintf("%d-0", q.n)
}

func (q *fakeQueue) ReadChunk(ctx context.Context, _ string) (*queue.ChunkTask, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		if task, ok := q.inFlight[id]; ok {
			return &task, id, nil
		}
	}
	if len(q.chunks) == 0 {
		q.cancel()
		return nil, "", ctx.Err()
	}
	id := q.nextID()
	task := q.chunks[0]
	q.chunks = q.chunks[1:]
	if q.inFlight == nil {
		q.inFlight = map[string]queue.ChunkTask{}
	}
	q.inFlight[id] = task
	q.order = append(q.order, id)
	return &task, id, nil
}

func (q *fakeQueue) ReadPatch(ctx context.Context, _ string) (*queue.PatchRequest, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.patches) == 0 {
		q.cancel()
		return nil, "", ctx.Err()
	}
	req := q.patches[0]
	q.patches = q.patches[1:]
	return &req, q.nextID(), nil
}

func (q *fakeQueue) ack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) AckChunk(_ context.Context, id string) error { return q.ack(id) }
func (q *fakeQueue) AckPatch(_ context.Context, id string) error { return q.ack(id) }

func (q *fakeQueue) PushChunk(_ context.Context, task queue.ChunkTask) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = append(q.chunks, task)
	return fmt.Sprintf("push-%d", len(q.chunks)), nil
}

func TestSubmitAndConsumeChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := fixed(proposal(3, "annotate", "title_length", "medium", "title too short", 0.9))
	h := newHarness(t, map[string]string{"index.html": page, "long.html": numberedFile(400)}, a, nil)
	q := &fakeQueue{cancel: cancel}

	job, err := h.pipeline.Submit(ctx, q, h.root, nil)
	require.NoError(t, err)
	require.Len(t, q.chunks, 4)
	for _, task := range q.chunks {
		assert.Equal(t, job.ID, task.JobID)
		assert.Equal(t, job.ID, task.Chunk.JobID)
	}

	err = h.pipeline.ConsumeChunks(ctx, q, "analyzer_1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, q.acked, 4)

	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.AnalyzedChunks)
	issues, err := h.store.ListIssues(context.Background(), store.IssueFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Len(t, issues, 2, "line 3 proposal lands in the first chunk of each file")
}

// flakyStore fails the first failCreates calls to CreateIssues.
type flakyStore struct {
	*store.Memory
	failCreates int32
}

func (s *flakyStore) CreateIssues(ctx context.Context, issues []seo.Issue) ([]seo.Issue, error) {
	if atomic.AddInt32(&s.failCreates, -1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return s.Memory.CreateIssues(ctx, issues)
}

func consumeWithFlakyStore(t *testing.T, failCreates int32) (*flakyStore, *fakeQueue, string, int32) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte(page), 0644))

	st := &flakyStore{Memory: store.NewMemory(), failCreates: failCreates}
	var calls int32
	a := analyzer.Func(func(context.Context, seo.Chunk) ([]seo.RawProposal, error) {
		atomic.AddInt32(&calls, 1)
		return []seo.RawProposal{proposal(3, "annotate", "meta_issue", "low", "note", 0.9)}, nil
	})
	p, err := New(Options{Store: st, Analyzer: a, RetryInterval: time.Millisecond})
	require.NoError(t, err)

	q := &fakeQueue{cancel: cancel}
	job, err := p.Submit(ctx, q, root, nil)
	require.NoError(t, err)
	err = p.ConsumeChunks(ctx, q, "analyzer_1")
	assert.ErrorIs(t, err, context.Canceled)
	return st, q, job.ID, atomic.LoadInt32(&calls)
}

func TestConsumeChunksRedeliversAfterStoreFailure(t *testing.T) {
	st, q, jobID, calls := consumeWithFlakyStore(t, 1)
	assert.Equal(t, int32(2), calls, "the chunk is analyzed again")
	assert.Equal(t, []string{"1-0"}, q.acked, "acknowledged once, after it was stored")

	progress, err := st.FileProgress(context.Background(), jobID, "index.html")
	require.NoError(t, err)
	assert.True(t, progress.Ready())
	issues, err := st.ListIssues(context.Background(), store.IssueFilter{JobID: jobID})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestConsumeChunksGivesUpAfterRepeatedFailures(t *testing.T) {
	st, q, jobID, calls := consumeWithFlakyStore(t, 100)
	assert.Equal(t, int32(chunkDeliveries), calls)
	assert.Equal(t, []string{"1-0"}, q.acked)

	progress, err := st.FileProgress(context.Background(), jobID, "index.html")
	require.NoError(t, err)
	assert.False(t, progress.Ready(), "a dropped chunk keeps the file out of review")
	assert.Equal(t, 1, progress.PendingChunks)
}

func TestConsumePatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, map[string]string{"index.html": page}, nil, nil)
	issues := seed(t, h, seo.Issue{FilePath: "index.html", LineNumber: 3, Action: seo.ActionAnnotate, Code: "note", Status: seo.StatusApproved})
	q := &fakeQueue{cancel: cancel, patches: []queue.PatchRequest{
		{JobID: "job", IssueID: issues[0].ID, Op: queue.OpApply},
		{JobID: "job", IssueID: 999, Op: queue.OpApply},
		{JobID: "job", IssueID: issues[0].ID, Op: queue.OpRollback},
	}}

	err := h.pipeline.ConsumePatches(ctx, q, "patcher_1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, q.acked, 3, "failed requests are acknowledged too")

	got, _ := h.store.GetIssue(context.Background(), issues[0].ID)
	assert.Equal(t, seo.StatusRolledBack, got.Status)
	assert.Equal(t, page, h.read(t, "index.html"))
}
