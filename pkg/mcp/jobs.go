package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state of a background job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Active reports whether the job has not reached a terminal state
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobKind names what a job does
type JobKind string

const (
	JobKindAudit     JobKind = "audit"
	JobKindLinkCheck JobKind = "link_check"
)

// Job is a background audit or link check
type Job struct {
	ID           string    `json:"id"`
	Kind         JobKind   `json:"kind"`
	ProjectID    string    `json:"project_id"`
	Status       JobStatus `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitzero"`
	LinksChecked int       `json:"links_checked,omitempty"`
	LinksTotal   int       `json:"links_total,omitempty"`
	BrokenLinks  int       `json:"broken_links,omitempty"`
	Warning      string    `json:"warning,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

type jobKey struct {
	kind      JobKind
	projectID string
}

// JobManager tracks background jobs. At most one active job exists per kind and project.
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	active map[jobKey]string
	now    func() time.Time
}

// NewJobManager creates an empty JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		active: make(map[jobKey]string),
		now:    time.Now,
	}
}

// CreateJob registers a pending job. If one of the same kind is already active for the
// project, that job is returned with created=false.
func (m *JobManager) CreateJob(kind JobKind, projectID string) (job Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobKey{kind, projectID}
	if id, ok := m.active[key]; ok {
		if existing := m.jobs[id]; existing != nil && existing.Status.Active() {
			return *existing, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		ProjectID: projectID,
		Status:    JobStatusPending,
		StartedAt: m.now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[j.ID] = j
	m.active[key] = j.ID
	return *j, true
}

// GetJob returns a snapshot of the job
func (m *JobManager) GetJob(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// ActiveJob returns the active job of kind for projectID
func (m *JobManager) ActiveJob(kind JobKind, projectID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[jobKey{kind, projectID}]
	if !ok {
		return Job{}, false
	}
	return *m.jobs[id], true
}

// UpdateStatus moves an active job to status. Terminal jobs are never changed,
// so a job cancelled by the user stays cancelled.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || !j.Status.Active() {
		return
	}
	j.Status = status
	if errorMsg != "" {
		j.ErrorMessage = errorMsg
	}
	if !status.Active() {
		m.finish(j)
	}
}

// SetWarning records a non-fatal problem on the job
func (m *JobManager) SetWarning(jobID, warning string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.Warning = warning
	}
}

// UpdateLinkProgress records link check counters
func (m *JobManager) UpdateLinkProgress(jobID string, checked, total, broken int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.LinksChecked, j.LinksTotal, j.BrokenLinks = checked, total, broken
	}
}

// CancelJob cancels an active job and reports whether it was active
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || !j.Status.Active() {
		return false
	}
	j.Status = JobStatusCancelled
	m.finish(j)
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Status.Active() {
			j.Status = JobStatusCancelled
			m.finish(j)
		}
	}
}

// finish stamps completion, cancels the job context and frees its slot. Callers hold mu.
func (m *JobManager) finish(j *Job) {
	j.CompletedAt = m.now()
	j.cancel()
	key := jobKey{j.Kind, j.ProjectID}
	if m.active[key] == j.ID {
		delete(m.active, key)
	}
}

// ListJobs returns snapshots of all jobs, oldest first
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartedAt.Before(jobs[k].StartedAt) })
	return jobs
}

// Context returns the job's context, which is cancelled when the job ends
func (m *JobManager) Context(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if j, ok := m.jobs[jobID]; ok {
		return j.ctx
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
