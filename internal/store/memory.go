package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sbenjam1n/seopatch/internal/seo"
)

type chunkKey struct {
	jobID     string
	filePath  string
	startLine int
}

type fileKey struct {
	jobID    string
	filePath string
}

// Memory is an in-process Store for tests and single-run CLI use.
type Memory struct {
	mu         sync.Mutex
	jobs       map[string]*seo.Job
	chunks     map[chunkKey]bool // analyzed flag
	reconciled map[fileKey]bool
	issues     map[int64]*seo.Issue
	records    []*seo.PatchRecord
	backups    []*seo.Backup
	nextIssue  int64
	nextRecord int64
	now        func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:       map[string]*seo.Job{},
		chunks:     map[chunkKey]bool{},
		reconciled: map[fileKey]bool{},
		issues:     map[int64]*seo.Issue{},
		now:        time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateJob(_ context.Context, job *seo.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("create job %s: already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*seo.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) AddChunks(_ context.Context, jobID string, chunks []seo.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("add chunks to job %s: %w", jobID, ErrNotFound)
	}
	for _, c := range chunks {
		k := chunkKey{jobID, c.FilePath, c.StartLine}
		if _, exists := m.chunks[k]; exists {
			continue
		}
		m.chunks[k] = false
		job.TotalChunks++
	}
	return nil
}

func (m *Memory) MarkChunkAnalyzed(_ context.Context, jobID, filePath string, startLine int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := chunkKey{jobID, filePath, startLine}
	analyzed, ok := m.chunks[k]
	if !ok {
		return 0, fmt.Errorf("chunk %s:%d: %w", filePath, startLine, ErrNotFound)
	}
	if !analyzed {
		m.chunks[k] = true
		m.jobs[jobID].AnalyzedChunks++
	}
	remaining := 0
	for ck, done := range m.chunks {
		if ck.jobID == jobID && ck.filePath == filePath && !done {
			remaining++
		}
	}
	return remaining, nil
}

func (m *Memory) MarkReconciled(_ context.Context, jobID, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciled[fileKey{jobID, filePath}] = true
	return nil
}

func (m *Memory) FileProgress(_ context.Context, jobID, filePath string) (FileProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var p FileProgress
	for ck, done := range m.chunks {
		if ck.jobID == jobID && ck.filePath == filePath && !done {
			p.PendingChunks++
		}
	}
	p.Reconciled = m.reconciled[fileKey{jobID, filePath}]
	return p, nil
}

func (m *Memory) CreateIssues(_ context.Context, issues []seo.Issue) ([]seo.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]seo.Issue, len(issues))
	for i, is := range issues {
		m.nextIssue++
		is.ID = m.nextIssue
		if is.CreatedAt.IsZero() {
			is.CreatedAt = m.now()
		}
		stored := copyIssue(is)
		m.issues[is.ID] = &stored
		delete(m.reconciled, fileKey{is.JobID, is.FilePath})
		out[i] = copyIssue(is)
	}
	return out, nil
}

func (m *Memory) GetIssue(_ context.Context, id int64) (*seo.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, ok := m.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	cp := copyIssue(*is)
	return &cp, nil
}

func (m *Memory) ListIssues(_ context.Context, f IssueFilter) ([]seo.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []seo.Issue
	for _, is := range m.issues {
		if f.match(is) {
			out = append(out, copyIssue(*is))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateIssue(_ context.Context, issue *seo.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(issue)
}

func (m *Memory) UpdateIssues(_ context.Context, issues []seo.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range issues {
		if _, ok := m.issues[issues[i].ID]; !ok {
			return fmt.Errorf("issue %d: %w", issues[i].ID, ErrNotFound)
		}
	}
	for i := range issues {
		if err := m.updateLocked(&issues[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) updateLocked(issue *seo.Issue) error {
	if _, ok := m.issues[issue.ID]; !ok {
		return fmt.Errorf("issue %d: %w", issue.ID, ErrNotFound)
	}
	cp := copyIssue(*issue)
	m.issues[issue.ID] = &cp
	return nil
}

func (m *Memory) CreatePatchRecord(_ context.Context, rec *seo.PatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRecord++
	rec.ID = m.nextRecord
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *Memory) MarkRolledBack(_ context.Context, recordID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == recordID {
			r.RolledBack = true
			t := at
			r.RolledBackAt = &t
			return nil
		}
	}
	return fmt.Errorf("patch record %d: %w", recordID, ErrNotFound)
}

func (m *Memory) PatchRecords(_ context.Context, filePath string) ([]seo.PatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []seo.PatchRecord
	for _, r := range m.records {
		if r.FilePath == filePath {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *Memory) PatchHistory(_ context.Context, jobID string, limit int) ([]seo.PatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []seo.PatchRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if jobID != "" && r.JobID != jobID {
			continue
		}
		out = append(out, *r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CreateBackup(_ context.Context, b *seo.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.backups = append(m.backups, &cp)
	return nil
}

func (m *Memory) LatestBackup(_ context.Context, filePath string, issueID int64) (*seo.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.backups) - 1; i >= 0; i-- {
		b := m.backups[i]
		if b.FilePath == filePath && b.IssueID == issueID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("backup for issue %d on %s: %w", issueID, filePath, ErrNotFound)
}

func copyIssue(is seo.Issue) seo.Issue {
	if is.ConflictWith != nil {
		is.ConflictWith = append([]int64(nil), is.ConflictWith...)
	}
	return is
}
