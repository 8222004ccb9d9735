package policy

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// Watch reloads the policy whenever its file changes, until ctx is cancelled.
// The parent directory is watched so editors that replace the file by rename are seen.
// Watch 监听策略文件变化并自动重新加载，直到 ctx 取消。
func (e *StaticPolicyEngine) Watch(ctx context.Context) error {
	if e.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.ErrServerError("failed to create policy watcher").WithCause(err)
	}
	target := filepath.Clean(e.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return errors.ErrServerError("failed to watch policy directory").WithCause(err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				_ = e.Reload(ctx)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Warn(ctx, "Policy watcher error", logger.Error(werr))
			}
		}
	}()
	e.logger.Info(ctx, "Watching policy file", logger.String("path", target))
	return nil
}
