package server

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/Rajankarna/VIDInsight/internal/store"
)

// Janitor sweeps the upload directory for media files no session references
// any more. Orphans appear when a pipeline run fails after acquisition or a
// deletion could not remove its file; the grace period keeps in-flight runs
// safe.
type Janitor struct {
	Store *store.Store
	Dir   string
	Cron  string
	Grace time.Duration
	Stop  chan struct{}

	logger *log.Logger
}

func (j *Janitor) Start() {
	if j.logger == nil {
		j.logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	expr, err := cronexpr.Parse(j.Cron)
	if err != nil {
		j.logger.Printf("invalid cron %q, falling back to hourly: %v", j.Cron, err)
		expr = cronexpr.MustParse("0 * * * *")
	}
	go func() {
		for {
			next := expr.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-j.Stop:
				timer.Stop()
				return
			case <-timer.C:
				if err := j.Sweep(context.Background()); err != nil {
					j.logger.Printf("sweep failed: %v", err)
				}
			}
		}
	}()
}

// Sweep removes files under Dir that are older than the grace period and not
// referenced by any session row.
func (j *Janitor) Sweep(ctx context.Context) error {
	referenced, err := j.Store.ListLocalMediaPaths(ctx)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(referenced))
	for _, p := range referenced {
		keep[filepath.Base(p)] = true
	}

	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-j.Grace)
	var removed int
	for _, e := range entries {
		if e.IsDir() || keep[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.Dir, e.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Printf("remove %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Printf("removed %d orphaned media files", removed)
	}
	return nil
}
