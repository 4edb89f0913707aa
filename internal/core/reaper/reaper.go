// Package reaper deletes orphaned on-disk artifacts left behind by the
// large-archive staging path. Only entries matching the known name prefixes
// are ever touched, so unrelated temp data is safe.
package reaper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/metrics"
)

// Prefixes of temp entries the archive staging path creates under the
// scan dir.
var DefaultPrefixes = []string{"labpipe-archive-"}

// SweepResult accumulates one pass over the temp directory.
type SweepResult struct {
	FilesRemoved int      `json:"files_removed"`
	DirsRemoved  int      `json:"dirs_removed"`
	BytesFreed   int64    `json:"bytes_freed"`
	Errors       []string `json:"errors,omitempty"`
}

type Reaper struct {
	dir      string
	prefixes []string
	maxAge   time.Duration
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Collector
}

// New builds a reaper over dir (os.TempDir() when empty).
func New(dir string, prefixes []string, maxAge, interval time.Duration, log *zap.Logger, mc *metrics.Collector) *Reaper {
	if dir == "" {
		dir = os.TempDir()
	}
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Reaper{dir: dir, prefixes: prefixes, maxAge: maxAge, interval: interval, log: log, metrics: mc}
}

// Start runs one sweep immediately, then repeats on the interval until ctx
// is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		r.runOnce()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce()
			}
		}
	}()
}

func (r *Reaper) runOnce() {
	res := r.Sweep(time.Now())
	if res.FilesRemoved > 0 || res.DirsRemoved > 0 || len(res.Errors) > 0 {
		r.log.Info("temp reaper sweep",
			zap.Int("files_removed", res.FilesRemoved),
			zap.Int("dirs_removed", res.DirsRemoved),
			zap.Int64("bytes_freed", res.BytesFreed),
			zap.Int("errors", len(res.Errors)),
		)
	}
	if r.metrics != nil {
		r.metrics.ReaperBytesFreed.Add(float64(res.BytesFreed))
	}
}

// Sweep removes matching entries whose mtime is older than maxAge relative
// to now and reports what was reclaimed.
func (r *Reaper) Sweep(now time.Time) *SweepResult {
	res := &SweepResult{}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	cutoff := now.Add(-r.maxAge)
	for _, e := range entries {
		if !r.matches(e.Name()) {
			continue
		}
		full := filepath.Join(r.dir, e.Name())
		info, err := e.Info()
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		files, dirs, size := measure(full, res)
		if err := os.RemoveAll(full); err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.FilesRemoved += files
		res.DirsRemoved += dirs
		res.BytesFreed += size
	}
	return res
}

func (r *Reaper) matches(name string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// measure walks an entry recursively, counting files, directories and bytes.
func measure(path string, res *SweepResult) (files, dirs int, size int64) {
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			res.Errors = append(res.Errors, walkErr.Error())
			return nil
		}
		if d.IsDir() {
			dirs++
			return nil
		}
		files++
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	return files, dirs, size
}
