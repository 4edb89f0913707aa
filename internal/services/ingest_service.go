package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/core/archive"
	"github.com/clinovia/labpipe/internal/core/dedup"
	"github.com/clinovia/labpipe/internal/metrics"
	"github.com/clinovia/labpipe/internal/models"
)

var (
	ErrInvalidFileType = errors.New("unsupported file type")
	ErrArchiveTooLarge = errors.New("archive exceeds synchronous entry limit")
)

// FileResult is the per-file outcome of any ingestion path. A duplicate is
// neither a success nor a failure; it reports the document that already
// holds these bytes.
type FileResult struct {
	FileName   string `json:"file_name"`
	Status     string `json:"status"` // processing | duplicate | error
	DocumentID string `json:"document_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult aggregates a bulk or synchronous-archive ingestion.
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	PerFile    []FileResult `json:"per_file_results"`
}

// IngestService is the single entry point every upload path funnels into:
// fingerprint, dedup gate, object-storage put, Document row, dispatch.
type IngestService struct {
	db         core.DbClient
	obj        core.ObjectClient
	dedupe     *dedup.Engine
	dispatcher core.Dispatcher
	jobs       *archive.JobStore

	bucket    string
	syncLimit int
	log       *zap.Logger
	metrics   *metrics.Collector
}

func NewIngestService(db core.DbClient, obj core.ObjectClient, dispatcher core.Dispatcher, jobs *archive.JobStore, bucket string, syncLimit int, log *zap.Logger, mc *metrics.Collector) *IngestService {
	if syncLimit <= 0 {
		syncLimit = 25
	}
	return &IngestService{
		db:         db,
		obj:        obj,
		dedupe:     dedup.NewEngine(db),
		dispatcher: dispatcher,
		jobs:       jobs,
		bucket:     bucket,
		syncLimit:  syncLimit,
		log:        log,
		metrics:    mc,
	}
}

// IngestFile runs the full single-file path. The returned result never
// carries a Go error for extraction problems; ingestion acknowledges as soon
// as bytes are durably stored and the worker owns the rest.
func (s *IngestService) IngestFile(ctx context.Context, ownerID, fileName, mimeType string, data []byte) FileResult {
	res := FileResult{FileName: fileName}

	detected := archive.MimeForName(fileName)
	if detected == "" {
		res.Status = "error"
		res.Error = ErrInvalidFileType.Error()
		return res
	}
	if mimeType == "" {
		mimeType = detected
	}

	hash := dedup.Fingerprint(data)
	existing, dup, err := s.dedupe.IsDuplicate(ctx, hash)
	if err != nil {
		return s.fail(res, fmt.Errorf("dedup lookup: %w", err))
	}
	if dup {
		s.metrics.DuplicatesSkipped.Inc()
		res.Status = "duplicate"
		res.DocumentID = existing.ID
		return res
	}

	key := fmt.Sprintf("lab-reports/%s/%s%s", ownerID, uuid.NewString(), filepath.Ext(fileName))
	url, err := s.obj.UploadFile(ctx, s.bucket, key, data, mimeType)
	if err != nil {
		return s.fail(res, fmt.Errorf("object storage put: %w", err))
	}

	doc := &models.Document{
		ID:               uuid.NewString(),
		UploadedBy:       ownerID,
		FileName:         fileName,
		FileKey:          key,
		FileURL:          url,
		MimeType:         mimeType,
		FileSizeBytes:    int64(len(data)),
		ContentHash:      hash,
		ProcessingStatus: models.StatusPending,
		CreatedAt:        time.Now(),
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		_ = s.obj.DeleteFile(ctx, s.bucket, key)
		return s.fail(res, fmt.Errorf("create document: %w", err))
	}

	won, err := s.dedupe.Record(ctx, hash, doc.ID)
	if err != nil {
		return s.fail(res, fmt.Errorf("record hash: %w", err))
	}
	if !won {
		// A concurrent upload of identical bytes claimed the hash first.
		// Compensate so exactly one object and one Document survive.
		_ = s.db.DeleteDocument(ctx, doc.ID)
		_ = s.obj.DeleteFile(ctx, s.bucket, key)
		s.metrics.DuplicatesSkipped.Inc()
		if winner, _, lerr := s.dedupe.IsDuplicate(ctx, hash); lerr == nil && winner != nil {
			res.DocumentID = winner.ID
		}
		res.Status = "duplicate"
		return res
	}

	s.metrics.DocumentsIngested.Inc()
	s.dispatcher.Dispatch(doc.ID)

	res.Status = "processing"
	res.DocumentID = doc.ID
	return res
}

func (s *IngestService) fail(res FileResult, err error) FileResult {
	s.metrics.IngestFailures.Inc()
	s.log.Error("ingest failed", zap.String("file_name", res.FileName), zap.Error(err))
	res.Status = "error"
	res.Error = err.Error()
	return res
}

// UploadFile is one file handed to the bulk ingestion path.
type UploadFile struct {
	Name string
	Mime string
	Data []byte
}

// IngestBatch runs IngestFile over several independent files, a few at a
// time. One bad file never aborts the batch; results keep the input order.
func (s *IngestService) IngestBatch(ctx context.Context, ownerID string, files []UploadFile) *BatchResult {
	out := &BatchResult{
		Total:   len(files),
		PerFile: make([]FileResult, len(files)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			out.PerFile[i] = s.IngestFile(gctx, ownerID, f.Name, f.Mime, f.Data)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range out.PerFile {
		out.tally(r)
	}
	return out
}

func (b *BatchResult) tally(r FileResult) {
	switch r.Status {
	case "processing":
		b.Successful++
	case "duplicate":
		b.Duplicates++
	default:
		b.Failed++
	}
}

// IngestArchiveSync processes a small archive inside the request cycle.
// Callers with bigger archives get ErrArchiveTooLarge and should resubmit
// on the async path.
func (s *IngestService) IngestArchiveSync(ctx context.Context, ownerID, fileName string, data []byte) (*BatchResult, error) {
	entries, err := archive.Extract(data, fileName)
	if err != nil {
		return nil, err
	}
	if len(entries) > s.syncLimit {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrArchiveTooLarge, len(entries), s.syncLimit)
	}

	out := &BatchResult{Total: len(entries)}
	for _, e := range entries {
		r := s.IngestFile(ctx, ownerID, e.Name, archive.MimeForName(e.Name), e.Data)
		out.PerFile = append(out.PerFile, r)
		out.tally(r)
		s.recordEntryMetric(r)
	}
	return out, nil
}

// SubmitArchiveJob stages the archive bytes to a temp file, registers a
// tracked job and continues processing in the background. The caller polls
// the returned job id.
func (s *IngestService) SubmitArchiveJob(ctx context.Context, ownerID, fileName string, data []byte) (*archive.Job, error) {
	if !archive.IsArchive(fileName) {
		return nil, archive.ErrUnsupportedArchive
	}

	tmp, err := os.CreateTemp("", "labpipe-archive-*")
	if err != nil {
		return nil, fmt.Errorf("stage archive: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("stage archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("stage archive: %w", err)
	}

	job := s.jobs.Create(fileName, ownerID)
	s.metrics.ArchiveJobsActive.Inc()

	// Detached from the request context: the upload has been accepted and
	// the client follows progress through the job, not the response.
	go s.runArchiveJob(context.Background(), job.JobID, tmp.Name(), fileName, ownerID)

	return job, nil
}

func (s *IngestService) runArchiveJob(ctx context.Context, jobID, stagedPath, fileName, ownerID string) {
	defer func() {
		_ = os.Remove(stagedPath)
		s.metrics.ArchiveJobsActive.Dec()
	}()

	data, err := os.ReadFile(stagedPath)
	if err != nil {
		s.jobs.Fail(jobID, fmt.Sprintf("read staged archive: %v", err))
		return
	}

	entries, err := archive.Extract(data, fileName)
	if err != nil {
		s.jobs.Fail(jobID, err.Error())
		return
	}
	s.jobs.BeginProcessing(jobID, len(entries))

	for _, e := range entries {
		r := s.IngestFile(ctx, ownerID, e.Name, archive.MimeForName(e.Name), e.Data)
		switch r.Status {
		case "processing":
			s.jobs.RecordEntry(jobID, archive.EntryUploaded)
		case "duplicate":
			s.jobs.RecordEntry(jobID, archive.EntryDuplicate)
		default:
			s.jobs.RecordEntry(jobID, archive.EntryFailed)
		}
		s.recordEntryMetric(r)
	}

	s.jobs.Complete(jobID)
	s.log.Info("archive job complete",
		zap.String("job_id", jobID),
		zap.Int("entries", len(entries)),
	)
}

func (s *IngestService) recordEntryMetric(r FileResult) {
	switch r.Status {
	case "processing":
		s.metrics.ArchiveEntries.WithLabelValues("uploaded").Inc()
	case "duplicate":
		s.metrics.ArchiveEntries.WithLabelValues("duplicate").Inc()
	default:
		s.metrics.ArchiveEntries.WithLabelValues("failed").Inc()
	}
}

// ArchiveJob returns a snapshot of a tracked job.
func (s *IngestService) ArchiveJob(jobID string) (archive.Job, error) {
	return s.jobs.Get(jobID)
}
