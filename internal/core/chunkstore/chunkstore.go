// Package chunkstore buffers the pieces of a large chunked upload in memory,
// keyed by a caller-supplied session id, and reassembles them once every
// chunk has arrived. Sessions are intentionally ephemeral: an age-based sweep
// evicts abandoned uploads so memory stays bounded.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/metrics"
)

var (
	ErrSessionExists     = errors.New("upload session already exists")
	ErrSessionNotFound   = errors.New("upload session not found")
	ErrSessionIncomplete = errors.New("upload session incomplete")
)

// MissingChunkError signals a gap in the chunk indices at finalize time.
// All indices in [0, totalChunks) must have been added; a gap is a protocol
// violation by the caller, not an expected state.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk at index %d", e.Index)
}

// UploadSession holds the in-flight pieces of one chunked upload.
type UploadSession struct {
	SessionID      string
	FileName       string
	TotalChunks    int
	TotalSizeBytes int64
	OwnerID        string
	CreatedAt      time.Time

	chunks map[int][]byte
}

// ChunkStatus is returned by AddChunk and Status.
type ChunkStatus struct {
	Exists   bool   `json:"exists"`
	Complete bool   `json:"complete"`
	Received int    `json:"received_chunks"`
	Total    int    `json:"total_chunks"`
	FileName string `json:"file_name,omitempty"`
}

// Manager is the concurrency-safe session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*UploadSession

	ttl        time.Duration
	sweepEvery time.Duration
	log        *zap.Logger
	metrics    *metrics.Collector
}

func NewManager(ttl, sweepEvery time.Duration, log *zap.Logger, mc *metrics.Collector) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	return &Manager{
		sessions:   make(map[string]*UploadSession),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		log:        log,
		metrics:    mc,
	}
}

// gauge mirrors the live session count. Callers hold m.mu.
func (m *Manager) gauge() {
	if m.metrics != nil {
		m.metrics.ChunkSessions.Set(float64(len(m.sessions)))
	}
}

// Start runs the staleness sweep until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.EvictStale(time.Now()); n > 0 {
					m.log.Info("evicted stale upload sessions", zap.Int("count", n))
				}
			}
		}
	}()
}

// Init registers a new session. Reusing a live session id is rejected;
// callers generate a fresh id per attempt.
func (m *Manager) Init(sessionID, fileName string, totalChunks int, totalSizeBytes int64, ownerID string) error {
	if totalChunks < 1 {
		return fmt.Errorf("total chunks must be >= 1, got %d", totalChunks)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return ErrSessionExists
	}
	m.sessions[sessionID] = &UploadSession{
		SessionID:      sessionID,
		FileName:       fileName,
		TotalChunks:    totalChunks,
		TotalSizeBytes: totalSizeBytes,
		OwnerID:        ownerID,
		CreatedAt:      time.Now(),
		chunks:         make(map[int][]byte, totalChunks),
	}
	m.gauge()
	return nil
}

// AddChunk stores one piece. Chunks may arrive out of order; a retransmitted
// index overwrites the previous bytes (last write wins).
func (m *Manager) AddChunk(sessionID string, index int, data []byte) (ChunkStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ChunkStatus{}, ErrSessionNotFound
	}
	if index < 0 || index >= s.TotalChunks {
		return ChunkStatus{}, fmt.Errorf("chunk index %d out of range [0,%d)", index, s.TotalChunks)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.chunks[index] = buf
	return ChunkStatus{
		Exists:   true,
		Complete: len(s.chunks) == s.TotalChunks,
		Received: len(s.chunks),
		Total:    s.TotalChunks,
		FileName: s.FileName,
	}, nil
}

// Finalize concatenates the chunks in ascending index order and returns the
// reassembled bytes plus the session metadata. The caller invokes Cleanup
// after a successful finalize.
func (m *Manager) Finalize(sessionID string) (data []byte, fileName, ownerID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, "", "", ErrSessionNotFound
	}
	if len(s.chunks) != s.TotalChunks {
		return nil, "", "", ErrSessionIncomplete
	}

	var size int
	for i := 0; i < s.TotalChunks; i++ {
		c, ok := s.chunks[i]
		if !ok {
			return nil, "", "", &MissingChunkError{Index: i}
		}
		size += len(c)
	}
	out := make([]byte, 0, size)
	for i := 0; i < s.TotalChunks; i++ {
		out = append(out, s.chunks[i]...)
	}
	return out, s.FileName, s.OwnerID, nil
}

// Cleanup removes a session regardless of its completion state. Idempotent.
func (m *Manager) Cleanup(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	m.gauge()
}

// Status returns a read-only snapshot. Unknown ids report Exists=false
// rather than erroring, so pollers can't distinguish expired from never
// created (they retry the same way either way).
func (m *Manager) Status(sessionID string) ChunkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ChunkStatus{Exists: false}
	}
	return ChunkStatus{
		Exists:   true,
		Complete: len(s.chunks) == s.TotalChunks,
		Received: len(s.chunks),
		Total:    s.TotalChunks,
		FileName: s.FileName,
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictStale removes every session older than the TTL relative to now and
// returns how many were dropped.
func (m *Manager) EvictStale(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for id, s := range m.sessions {
		if now.Sub(s.CreatedAt) > m.ttl {
			delete(m.sessions, id)
			n++
		}
	}
	m.gauge()
	return n
}
