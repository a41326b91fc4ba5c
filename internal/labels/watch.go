package labels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchSettle batches bursts of file events before re-merging; labeling
// exports often land as several files in quick succession.
const watchSettle = 2 * time.Second

// Watch runs an initial merge over the annotations directory, then re-runs
// the full merge whenever annotation files are added or changed. Each pass
// re-reads everything, so the output is always the deterministic merge of
// the files currently present. Blocks until ctx is cancelled.
func (m *Merger) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start annotations watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if err := m.mergeDir(ctx, dir); err != nil {
		return err
	}

	var settle *time.Timer
	var settleC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".csv") && !strings.HasSuffix(ev.Name, ".jsonl") {
				continue
			}
			m.Log.Debug("annotation file changed", zap.String("file", ev.Name))
			if settle == nil {
				settle = time.NewTimer(watchSettle)
			} else {
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(watchSettle)
			}
			settleC = settle.C
		case <-settleC:
			settleC = nil
			if err := m.mergeDir(ctx, dir); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.Log.Warn("annotations watcher error", zap.Error(err))
		}
	}
}

func (m *Merger) mergeDir(ctx context.Context, dir string) error {
	anns, err := LoadDir(dir)
	if err != nil {
		return err
	}
	if len(anns) == 0 {
		m.Log.Info("no annotation files yet", zap.String("dir", dir))
		return nil
	}
	_, err = m.Run(ctx, anns)
	return err
}
