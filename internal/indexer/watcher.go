package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"skillsense/internal/logging"
	"skillsense/internal/skill"
)

// debounceWindow coalesces filesystem event bursts into one pass.
const debounceWindow = 500 * time.Millisecond

// Watch monitors the source directories and runs a quick index pass
// after each burst of changes. It blocks until ctx is cancelled.
func (ix *Indexer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, src := range ix.sources {
		root, err := filepath.Abs(src.Path)
		if err != nil {
			return err
		}
		if err := addRecursive(w, root); err != nil {
			logging.Get(logging.CategoryIndex).Warn("Cannot watch %s: %v", root, err)
		}
	}

	logging.Index("Watching %d source roots for skill changes", len(ix.sources))

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev) {
				continue
			}
			logging.IndexDebug("FS event: %s %s", ev.Op, ev.Name)
			// New directories need watching before their contents settle.
			if ev.Op.Has(fsnotify.Create) {
				if info, serr := os.Stat(ev.Name); serr == nil && info.IsDir() {
					_ = addRecursive(w, ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			timer = nil
			if report, err := ix.Index(ctx, ModeQuick); err != nil {
				logging.Get(logging.CategoryIndex).Error("Watch pass failed: %v", err)
			} else if report.Indexed+report.Failed > 0 {
				logging.Index("Watch pass %s: indexed=%d failed=%d", report.PassID, report.Indexed, report.Failed)
			}

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryIndex).Warn("Watcher error: %v", werr)
		}
	}
}

// relevantEvent keeps only SKILL.md writes and directory churn.
func relevantEvent(ev fsnotify.Event) bool {
	if strings.HasSuffix(ev.Name, skill.FileName) {
		return true
	}
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}
