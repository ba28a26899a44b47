package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/codesphere/backend/internal/infrastructure/logging"
)

const workspacePattern = workspacePrefix + "*"

// Janitor removes run workspaces left behind by a crashed or killed server.
type Janitor struct {
	root       string
	staleAfter time.Duration
	log        *logging.Logger
	now        func() time.Time
}

// NewJanitor creates a janitor for the given workspace root.
func NewJanitor(root string, staleAfter time.Duration, log *logging.Logger) *Janitor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Janitor{root: root, staleAfter: staleAfter, log: log, now: time.Now}
}

// Sweep deletes every top-level workspace older than the stale threshold and
// returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.staleAfter)

	var mu sync.Mutex
	var stale []string

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, j.root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || p == j.root {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(j.root, p)
		if relErr != nil {
			return filepath.SkipDir
		}
		if ok, _ := doublestar.Match(workspacePattern, filepath.ToSlash(rel)); ok {
			if info, infoErr := d.Info(); infoErr == nil && info.ModTime().Before(cutoff) {
				mu.Lock()
				stale = append(stale, p)
				mu.Unlock()
			}
		}
		// Only the workspace root's direct children are candidates.
		return filepath.SkipDir
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}

	removed := 0
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			j.log.Warn("Failed to remove stale workspace", zap.String("dir", dir), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		j.log.Info("Removed stale workspaces", zap.Int("count", removed))
	}
	return removed, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.log.Warn("Workspace sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
