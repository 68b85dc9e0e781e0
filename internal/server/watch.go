package server

import (
	"github.com/fsnotify/fsnotify"

	"mcpgate/internal/oauth"
	"mcpgate/internal/skills"
	"mcpgate/pkg/logging"
)

// fileWatcher reloads the client registry and skill catalog when their
// backing files change. A failed reload keeps the previous snapshot, so an
// editor mid-save never takes the flow down.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func watchFiles(registry *oauth.Registry, catalog *skills.Catalog) (*fileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	paths := map[string]func() error{}
	if p := registry.Path(); p != "" {
		paths[p] = registry.Reload
	}
	if p := catalog.Path(); p != "" {
		paths[p] = catalog.Reload
	}

	for p := range paths {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	fw := &fileWatcher{watcher: watcher, done: make(chan struct{})}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reload, ok := paths[event.Name]
				if !ok {
					continue
				}
				if err := reload(); err != nil {
					logging.Warn("Server", "Reload of %s failed, keeping previous data: %v", event.Name, err)
				} else {
					logging.Info("Server", "Reloaded %s", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Server", "File watcher error: %v", err)
			case <-fw.done:
				return
			}
		}
	}()

	return fw, nil
}

func (fw *fileWatcher) stop() {
	close(fw.done)
	fw.watcher.Close()
}
