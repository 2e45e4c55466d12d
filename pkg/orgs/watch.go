package orgs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/calltrackerpro/calltracker/pkg/observability"
)

// WatchPlanCatalog reloads the plan catalog at path into guard whenever the
// file is written or replaced. A file that fails to parse is logged and the
// previous catalog stays in effect. The watcher runs until ctx is done; the
// returned channel closes once it has stopped.
func WatchPlanCatalog(ctx context.Context, path string, guard *LimitGuard, logger *observability.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors and config management usually replace the file, so watch the
	// directory and filter on the name.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	logger = logger.WithField("plan_catalog", target)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(target)
				if err == nil && len(bytes.TrimSpace(data)) == 0 {
					// truncated mid-write, wait for the next event
					continue
				}
				var catalog PlanCatalog
				if err == nil {
					catalog, err = ParsePlanCatalog(data)
				}
				if err != nil {
					logger.WithError(err).Warn("Plan catalog reload failed, keeping previous limits")
					continue
				}
				guard.SetCatalog(catalog)
				logger.Info("Plan catalog reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Plan catalog watcher error")
			}
		}
	}()

	return done, nil
}
