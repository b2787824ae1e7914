package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/surogate/surogate-agent/pkg/logger"
)

// DefaultDebounce is how long the watcher waits for changes to settle
const DefaultDebounce = 500 * time.Millisecond

// Watcher rebuilds a registry whenever one of its roots changes
type Watcher struct {
	registry *Registry
	debounce time.Duration
	onChange func(*Snapshot)
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a rebuild
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher that hands every fresh snapshot to onChange
func NewWatcher(registry *Registry, onChange func(*Snapshot), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		registry: registry,
		debounce: DefaultDebounce,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the roots until ctx is cancelled. Roots that do not exist when
// Run starts are not watched.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer fw.Close()

	roots := make(map[string]bool)
	for _, root := range w.registry.Roots() {
		if err := w.watchRoot(ctx, fw, root.Path); err != nil {
			return err
		}
		roots[root.Path] = true
	}

	var settle <-chan time.Time
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			// New skill directories need their own watch to see SKILL.md edits
			if event.Op&fsnotify.Create != 0 && roots[filepath.Dir(event.Name)] {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.Add(event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("directory", event.Name).Warn("failed to watch skill directory")
					}
				}
			}
			logger.G(ctx).WithFields(map[string]any{
				"file":      event.Name,
				"operation": event.Op.String(),
			}).Debug("skill change detected")
			settle = time.After(w.debounce)
		case <-settle:
			settle = nil
			// A rebuild that repairs files triggers one more rebuild, which
			// finds nothing left to repair.
			w.onChange(w.registry.Build(ctx))
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Error("error watching skill roots")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) watchRoot(ctx context.Context, fw *fsnotify.Watcher, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			logger.G(ctx).WithField("root", root).Debug("skill root does not exist, not watching it")
			return nil
		}
		return errors.Wrapf(err, "failed to read skill root %s", root)
	}

	if err := fw.Add(root); err != nil {
		return errors.Wrapf(err, "failed to watch skill root %s", root)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := fw.Add(dir); err != nil {
			return errors.Wrapf(err, "failed to watch skill directory %s", dir)
		}
	}
	logger.G(ctx).WithField("root", root).Debug("watching skill root")
	return nil
}
