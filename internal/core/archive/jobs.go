package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrJobNotFound = errors.New("archive job not found")

// JobStatus is the lifecycle of a background archive ingestion.
type JobStatus string

const (
	JobExtracting JobStatus = "extracting" // archive accepted, entries not yet counted
	JobProcessing JobStatus = "processing" // entry-by-entry ingestion underway
	JobComplete   JobStatus = "complete"
	JobError      JobStatus = "error"
)

// Job tracks live progress of one large-archive ingestion. Jobs are
// process-local and never persisted: a client that stops polling before
// completion loses visibility, but the Documents are still created.
type Job struct {
	JobID    string    `json:"job_id"`
	FileName string    `json:"file_name"`
	OwnerID  string    `json:"owner_id"`
	Status   JobStatus `json:"status"`

	TotalEntries          int `json:"total_entries"`
	ProcessedEntries      int `json:"processed_entries"`
	UploadedCount         int `json:"uploaded_count"`
	SkippedDuplicateCount int `json:"skipped_duplicate_count"`
	FailedCount           int `json:"failed_count"`

	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// JobStore is the concurrency-safe registry of in-flight archive jobs.
// Finished jobs linger for a retention window so pollers can read the final
// counts, then the sweep drops them to keep the registry bounded.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	ttl        time.Duration
	sweepEvery time.Duration
	log        *zap.Logger
}

func NewJobStore(ttl, sweepEvery time.Duration, log *zap.Logger) *JobStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if sweepEvery <= 0 {
		sweepEvery = 10 * time.Minute
	}
	return &JobStore{
		jobs:       make(map[string]*Job),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		log:        log,
	}
}

// Start runs the terminal-job eviction sweep until ctx is cancelled.
func (s *JobStore) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.EvictTerminal(time.Now()); n > 0 {
					s.log.Info("evicted finished archive jobs", zap.Int("count", n))
				}
			}
		}
	}()
}

// EvictTerminal drops complete/error jobs that finished more than the
// retention TTL before now. Active jobs are never touched.
func (s *JobStore) EvictTerminal(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, j := range s.jobs {
		if j.CompletedAt == nil {
			continue
		}
		if now.Sub(*j.CompletedAt) > s.ttl {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

// Create registers a new job in the extracting state and returns its id.
func (s *JobStore) Create(fileName, ownerID string) *Job {
	j := &Job{
		JobID:     uuid.NewString(),
		FileName:  fileName,
		OwnerID:   ownerID,
		Status:    JobExtracting,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[j.JobID] = j
	s.mu.Unlock()
	return j
}

// Get returns a snapshot of the job, so callers never observe a job struct
// that mutates under them.
func (s *JobStore) Get(jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// BeginProcessing records the entry count and flips the job to processing.
func (s *JobStore) BeginProcessing(jobID string, totalEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.TotalEntries = totalEntries
		j.Status = JobProcessing
	}
}

// EntryResult is the per-entry outcome recorded against a job.
type EntryResult int

const (
	EntryUploaded EntryResult = iota
	EntryDuplicate
	EntryFailed
)

// RecordEntry bumps the progress counters for one consumed entry.
func (s *JobStore) RecordEntry(jobID string, result EntryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return
	}
	j.ProcessedEntries++
	switch result {
	case EntryUploaded:
		j.UploadedCount++
	case EntryDuplicate:
		j.SkippedDuplicateCount++
	case EntryFailed:
		j.FailedCount++
	}
}

// Complete marks the job done and stamps the completion time.
func (s *JobStore) Complete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		now := time.Now()
		j.Status = JobComplete
		j.CompletedAt = &now
	}
}

// Fail marks the job unrecoverable (e.g. corrupt archive).
func (s *JobStore) Fail(jobID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		now := time.Now()
		j.Status = JobError
		j.ErrorMessage = message
		j.CompletedAt = &now
	}
}

// ActiveCount reports jobs that have not reached complete/error yet.
func (s *JobStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, j := range s.jobs {
		if j.Status == JobExtracting || j.Status == JobProcessing {
			n++
		}
	}
	return n
}
