package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"shader-cam/pkg/utils"
)

// Watcher reloads a config file when it changes and passes the fresh
// config to a handler.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  func(Config)
	logger   *zap.SugaredLogger
}

func NewWatcher(path string, handler func(Config)) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		handler:  handler,
		logger:   utils.GetLogger().Named("config"),
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err = fw.Add(w.path); err != nil {
		return err
	}
	w.logger.Infof("watching %s", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// editors that replace the file emit Create
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warnf("reload %s: %s", w.path, err)
				continue
			}
			w.handler(cfg)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("watch %s: %s", w.path, err)
		}
	}
}
