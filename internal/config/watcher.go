package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollInterval = 60 * time.Second

// StartWatcher monitors the config file and reloads it on change.
// fsnotify drives prompt reloads; a slow polling loop runs as a safety
// net for editors and mounts that do not emit events.
func (s *Store) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	useEvents := err == nil

	if useEvents {
		if err := watcher.Add(s.path); err != nil {
			log.Printf("Config watcher: failed to watch %s (%v), polling only", s.path, err)
			watcher.Close()
			useEvents = false
		}
	} else {
		log.Printf("Config watcher: fsnotify unavailable (%v), polling only", err)
	}

	if useEvents {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Small debounce so partial writes settle.
						time.Sleep(100 * time.Millisecond)
						if err := s.Reload(); err != nil {
							log.Printf("Config watcher: reload failed: %v", err)
						} else {
							log.Printf("Config watcher: reloaded %s", s.path)
						}
					}
				case werr, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("Config watcher error: %v", werr)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reload(); err != nil {
					log.Printf("Config watcher: poll reload failed: %v", err)
				}
			}
		}
	}()
}
