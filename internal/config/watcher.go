package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("gateway")

// ChangeHandler receives the reloaded overlay.
type ChangeHandler func(f *File)

// Watcher reloads the YAML overlay when it changes on disk. Bursts of
// writes are collapsed into one reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	handlers []ChangeHandler
	stop     chan struct{}
	timer    *time.Timer
}

func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}
	return &Watcher{
		path:     path,
		watcher:  w,
		debounce: 300 * time.Millisecond,
	}, nil
}

func (cw *Watcher) OnChange(h ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, h)
}

func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(cw.path); err != nil {
		return errors.Wrapf(err, "watch %s", cw.path)
	}
	cw.stop = make(chan struct{})
	go cw.watchLoop()
	log.Infof("[Config] Watching %s", cw.path)
	return nil
}

func (cw *Watcher) Stop() {
	cw.mu.Lock()
	if cw.stop != nil {
		close(cw.stop)
		cw.stop = nil
	}
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.mu.Unlock()
	cw.watcher.Close()
}

func (cw *Watcher) watchLoop() {
	cw.mu.Lock()
	stop := cw.stop
	cw.mu.Unlock()
	for {
		select {
		case <-stop:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cw.mu.Lock()
			if cw.timer != nil {
				cw.timer.Stop()
			}
			cw.timer = time.AfterFunc(cw.debounce, cw.reload)
			cw.mu.Unlock()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("[Config] Watcher: %v", err)
		}
	}
}

func (cw *Watcher) reload() {
	f, err := LoadFile(cw.path)
	if err != nil {
		log.Errorf("[Config] Reload %s: %v", cw.path, err)
		return
	}
	cw.mu.Lock()
	handlers := append([]ChangeHandler(nil), cw.handlers...)
	cw.mu.Unlock()
	for _, h := range handlers {
		h(f)
	}
	log.Infof("[Config] Reloaded %s", cw.path)
}
