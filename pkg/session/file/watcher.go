package sessionfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	slogctx "github.com/veqryn/slog-context"
)

// DefaultDebounce is how long Watch waits after the last change before
// calling onChange.
const DefaultDebounce = 200 * time.Millisecond

// Watch calls onChange whenever the session file is written, replaced or
// removed by anyone, including this process. It blocks until ctx is done.
func (p *Persister) Watch(ctx context.Context, debounce time.Duration, onChange func(context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	trigger := func() {
		mu.Lock()
		defer mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() == nil {
				onChange(ctx)
			}
		})
	}

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			slogctx.Debug(ctx, "Session file changed", "op", event.Op.String())
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slogctx.Warn(ctx, "Session file watcher error", "error", err)
		}
	}
}
