package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Janitor removes intake files left behind by requests that never finished,
// for example after a crash.
type Janitor struct {
	dir    string
	maxAge time.Duration
	poll   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewJanitor creates a Janitor for dir. If maxAge is <= 0 it defaults to one
// hour; if pollInterval is <= 0 it defaults to ten minutes.
func NewJanitor(dir string, maxAge, pollInterval time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Minute
	}
	return &Janitor{
		dir:    dir,
		maxAge: maxAge,
		poll:   pollInterval,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Run sweeps the directory until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		removed, err := j.RunOnce(ctx)
		if err != nil {
			j.logger.Error("janitor sweep failed", "error", err)
		} else if removed > 0 {
			j.logger.Info("removed stale uploads", "count", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(j.poll):
		}
	}
}

// RunOnce deletes files older than maxAge and returns how many were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading intake directory: %w", err)
	}

	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("removing stale upload failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
