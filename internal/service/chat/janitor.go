package chat

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultPendingTTL      = 24 * time.Hour
	DefaultJanitorInterval = time.Hour
)

// StartJanitor periodically removes pending files left behind by interrupted writes.
func (s *Store) StartJanitor(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	go s.janitorLoop(ctx, interval, ttl)
}

func (s *Store) janitorLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.sweepPending(ttl); err != nil {
				s.log.Error("Cleanup pending files failed", "error", err)
			}
		}
	}
}

func (s *Store) sweepPending(ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), pendingPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Remove pending file failed", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if removed > 0 {
		s.log.Info("Removed stale pending files", "count", removed)
	}
	return removed, err
}
