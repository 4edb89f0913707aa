package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/core/archive"
	"github.com/clinovia/labpipe/internal/metrics"
	"github.com/clinovia/labpipe/internal/models"
)

// -------- test fakes --------

type fakeIngestDB struct {
	core.DbClient

	mu             sync.Mutex
	docs           map[string]*models.Document
	hashes         map[string]string
	deletedDocs    []string
	loseNextRecord bool
}

func newFakeIngestDB() *fakeIngestDB {
	return &fakeIngestDB{
		docs:   map[string]*models.Document{},
		hashes: map[string]string{},
	}
}

func (f *fakeIngestDB) CreateDocument(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeIngestDB) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	f.deletedDocs = append(f.deletedDocs, id)
	return nil
}

func (f *fakeIngestDB) LookupHash(_ context.Context, hash string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.hashes[hash]
	if !ok {
		return nil, nil
	}
	if d, ok := f.docs[id]; ok {
		cp := *d
		return &cp, nil
	}
	return &models.Document{ID: id}, nil
}

func (f *fakeIngestDB) RecordHash(_ context.Context, hash, documentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseNextRecord {
		f.loseNextRecord = false
		f.hashes[hash] = "winner-doc"
		return false, nil
	}
	if _, taken := f.hashes[hash]; taken {
		return false, nil
	}
	f.hashes[hash] = documentID
	return true, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	return fmt.Sprintf("https://%s.s3.test/%s", bucket, key), nil
}

func (f *fakeStore) DeleteFile(_ context.Context, _, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) GetFile(_ context.Context, _, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key], nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeDispatcher) Dispatch(documentID string) {
	f.mu.Lock()
	f.ids = append(f.ids, documentID)
	f.mu.Unlock()
}

func (f *fakeDispatcher) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func newTestIngest(db *fakeIngestDB, obj *fakeStore, disp *fakeDispatcher, syncLimit int) *IngestService {
	mc := metrics.NewCollectorWith(prometheus.NewRegistry())
	jobs := archive.NewJobStore(time.Hour, 10*time.Minute, zap.NewNop())
	return NewIngestService(db, obj, disp, jobs, "reports", syncLimit, zap.NewNop(), mc)
}

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// -------- tests --------

func TestIngestFileHappyPath(t *testing.T) {
	db := newFakeIngestDB()
	obj := newFakeStore()
	disp := &fakeDispatcher{}
	svc := newTestIngest(db, obj, disp, 25)

	res := svc.IngestFile(context.Background(), "user-1", "cbc.pdf", "", []byte("%PDF-1.4 report"))

	assert.Equal(t, "processing", res.Status)
	require.NotEmpty(t, res.DocumentID)

	doc := db.docs[res.DocumentID]
	require.NotNil(t, doc)
	assert.Equal(t, models.StatusPending, doc.ProcessingStatus)
	assert.Equal(t, "user-1", doc.UploadedBy)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.Equal(t, int64(15), doc.FileSizeBytes)
	assert.Len(t, doc.ContentHash, 64)

	assert.Equal(t, []string{res.DocumentID}, disp.dispatched())
	assert.Equal(t, 1, obj.count())
}

func TestIngestFileDuplicateContent(t *testing.T) {
	db := newFakeIngestDB()
	obj := newFakeStore()
	disp := &fakeDispatcher{}
	svc := newTestIngest(db, obj, disp, 25)

	first := svc.IngestFile(context.Background(), "user-1", "scan.jpg", "", []byte("same bytes"))
	require.Equal(t, "processing", first.Status)

	// Identical content under a different name is still a duplicate.
	second := svc.IngestFile(context.Background(), "user-1", "renamed.jpg", "", []byte("same bytes"))

	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 1, obj.count(), "duplicate must not store a second object")
	assert.Len(t, disp.dispatched(), 1)
}

func TestIngestFileUnsupportedType(t *testing.T) {
	svc := newTestIngest(newFakeIngestDB(), newFakeStore(), &fakeDispatcher{}, 25)

	res := svc.IngestFile(context.Background(), "user-1", "notes.txt", "", []byte("hi"))

	assert.Equal(t, "error", res.Status)
	assert.Equal(t, ErrInvalidFileType.Error(), res.Error)
}

func TestIngestFileRecordRaceLoserCompensates(t *testing.T) {
	db := newFakeIngestDB()
	db.loseNextRecord = true
	obj := newFakeStore()
	disp := &fakeDispatcher{}
	svc := newTestIngest(db, obj, disp, 25)

	res := svc.IngestFile(context.Background(), "user-1", "race.png", "", []byte("contended"))

	assert.Equal(t, "duplicate", res.Status)
	assert.Equal(t, "winner-doc", res.DocumentID)
	assert.Equal(t, 0, obj.count(), "loser's object must be removed")
	assert.Len(t, db.deletedDocs, 1, "loser's Document row must be removed")
	assert.Empty(t, disp.dispatched(), "a losing upload never dispatches")
}

func TestIngestBatchMixedOutcomes(t *testing.T) {
	db := newFakeIngestDB()
	svc := newTestIngest(db, newFakeStore(), &fakeDispatcher{}, 25)

	out := svc.IngestBatch(context.Background(), "user-1", []UploadFile{
		{Name: "a.pdf", Data: []byte("first")},
		{Name: "b.pdf", Data: []byte("first")},
		{Name: "c.exe", Data: []byte("nope")},
	})

	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 1, out.Successful)
	assert.Equal(t, 1, out.Duplicates)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.PerFile, 3)

	// Results keep input order; which pdf wins the dedup race does not.
	assert.ElementsMatch(t,
		[]string{"processing", "duplicate"},
		[]string{out.PerFile[0].Status, out.PerFile[1].Status})
	assert.Equal(t, "a.pdf", out.PerFile[0].FileName)
	assert.Equal(t, "error", out.PerFile[2].Status)
}

func TestIngestArchiveSync(t *testing.T) {
	db := newFakeIngestDB()
	obj := newFakeStore()
	svc := newTestIngest(db, obj, &fakeDispatcher{}, 25)

	data := buildZip(t, map[string][]byte{
		"one.jpg":   []byte("unique-a"),
		"two.jpg":   []byte("dupe"),
		"three.jpg": []byte("dupe"),
	})

	out, err := svc.IngestArchiveSync(context.Background(), "user-1", "reports.zip", data)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Successful)
	assert.Equal(t, 1, out.Duplicates)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 2, obj.count())
}

func TestIngestArchiveSyncOverLimit(t *testing.T) {
	svc := newTestIngest(newFakeIngestDB(), newFakeStore(), &fakeDispatcher{}, 2)

	data := buildZip(t, map[string][]byte{
		"one.jpg":   []byte("a"),
		"two.jpg":   []byte("b"),
		"three.jpg": []byte("c"),
	})

	_, err := svc.IngestArchiveSync(context.Background(), "user-1", "big.zip", data)
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
}

func TestSubmitArchiveJobRunsToCompletion(t *testing.T) {
	db := newFakeIngestDB()
	obj := newFakeStore()
	svc := newTestIngest(db, obj, &fakeDispatcher{}, 25)

	data := buildZip(t, map[string][]byte{
		"one.jpg": []byte("unique-a"),
		"two.jpg": []byte("unique-b"),
		"bad.txt": []byte("skipped by the entry filter"),
	})

	job, err := svc.SubmitArchiveJob(context.Background(), "user-1", "nightly.zip", data)
	require.NoError(t, err)
	require.NotEmpty(t, job.JobID)

	require.Eventually(t, func() bool {
		j, err := svc.ArchiveJob(job.JobID)
		return err == nil && j.Status == archive.JobComplete
	}, 2*time.Second, 10*time.Millisecond)

	j, err := svc.ArchiveJob(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, j.TotalEntries, "filtered entries never enter the job")
	assert.Equal(t, 2, j.ProcessedEntries)
	assert.Equal(t, 2, j.UploadedCount)
	assert.Equal(t, 0, j.FailedCount)
	assert.NotNil(t, j.CompletedAt)
}

func TestSubmitArchiveJobRejectsNonArchive(t *testing.T) {
	svc := newTestIngest(newFakeIngestDB(), newFakeStore(), &fakeDispatcher{}, 25)

	_, err := svc.SubmitArchiveJob(context.Background(), "user-1", "report.pdf", []byte("not an archive"))
	assert.ErrorIs(t, err, archive.ErrUnsupportedArchive)
}

func TestSubmitArchiveJobCorruptArchiveFails(t *testing.T) {
	svc := newTestIngest(newFakeIngestDB(), newFakeStore(), &fakeDispatcher{}, 25)

	job, err := svc.SubmitArchiveJob(context.Background(), "user-1", "broken.zip", []byte("garbage"))
	require.NoError(t, err, "submission accepts the bytes; extraction failure surfaces on the job")

	require.Eventually(t, func() bool {
		j, err := svc.ArchiveJob(job.JobID)
		return err == nil && j.Status == archive.JobError
	}, 2*time.Second, 10*time.Millisecond)

	j, _ := svc.ArchiveJob(job.JobID)
	assert.NotEmpty(t, j.ErrorMessage)
}
