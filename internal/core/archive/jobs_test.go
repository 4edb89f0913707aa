package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestJobStore() *JobStore {
	return NewJobStore(time.Hour, 10*time.Minute, zap.NewNop())
}

func TestJobLifecycle(t *testing.T) {
	s := newTestJobStore()
	j := s.Create("batch.zip", "user-1")
	require.NotEmpty(t, j.JobID)
	assert.Equal(t, JobExtracting, j.Status)
	assert.Equal(t, 1, s.ActiveCount())

	s.BeginProcessing(j.JobID, 3)
	got, err := s.Get(j.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobProcessing, got.Status)
	assert.Equal(t, 3, got.TotalEntries)

	s.RecordEntry(j.JobID, EntryUploaded)
	s.RecordEntry(j.JobID, EntryUploaded)
	s.RecordEntry(j.JobID, EntryDuplicate)
	s.Complete(j.JobID)

	got, err = s.Get(j.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobComplete, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Counter invariant at completion.
	assert.Equal(t, got.TotalEntries, got.ProcessedEntries)
	assert.Equal(t, got.ProcessedEntries, got.UploadedCount+got.SkippedDuplicateCount+got.FailedCount)
	assert.Equal(t, 2, got.UploadedCount)
	assert.Equal(t, 1, got.SkippedDuplicateCount)
	assert.Equal(t, 0, s.ActiveCount())
}

func TestJobFailure(t *testing.T) {
	s := newTestJobStore()
	j := s.Create("corrupt.zip", "user-1")

	s.Fail(j.JobID, "open zip: not a valid archive")
	got, err := s.Get(j.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobError, got.Status)
	assert.Contains(t, got.ErrorMessage, "not a valid archive")
}

func TestJobNotFound(t *testing.T) {
	s := newTestJobStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEvictTerminalDropsOnlyExpiredFinishedJobs(t *testing.T) {
	s := newTestJobStore()

	oldDone := s.Create("old-done.zip", "user-1")
	s.Complete(oldDone.JobID)
	oldFailed := s.Create("old-failed.zip", "user-1")
	s.Fail(oldFailed.JobID, "open zip: not a valid archive")
	recent := s.Create("recent.zip", "user-1")
	s.Complete(recent.JobID)
	active := s.Create("active.zip", "user-1")

	// Age two finished jobs past the retention window.
	stale := time.Now().Add(-2 * time.Hour)
	s.mu.Lock()
	s.jobs[oldDone.JobID].CompletedAt = &stale
	s.jobs[oldFailed.JobID].CompletedAt = &stale
	s.mu.Unlock()

	evicted := s.EvictTerminal(time.Now())
	assert.Equal(t, 2, evicted)

	_, err := s.Get(oldDone.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Get(oldFailed.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	// A recently finished job stays pollable, an active one is untouchable.
	_, err = s.Get(recent.JobID)
	assert.NoError(t, err)
	_, err = s.Get(active.JobID)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.ActiveCount())
}

func TestJobSnapshotIsolation(t *testing.T) {
	s := newTestJobStore()
	j := s.Create("batch.zip", "user-1")

	snap, err := s.Get(j.JobID)
	require.NoError(t, err)
	s.RecordEntry(j.JobID, EntryUploaded)

	// The earlier snapshot must not observe the later mutation.
	assert.Equal(t, 0, snap.ProcessedEntries)
}
