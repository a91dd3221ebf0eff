// Package schedule takes snapshots at a fixed interval.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shader-cam/pkg/utils"
)

// Scheduler calls its job on every tick while started.
type Scheduler struct {
	t      *time.Ticker
	job    func() (string, error)
	lock   sync.Mutex
	active bool
	logger *zap.SugaredLogger
}

// New returns a stopped scheduler whose loop ends with ctx.
func New(ctx context.Context, job func() (string, error)) *Scheduler {
	t := time.NewTicker(time.Second)
	t.Stop()

	s := &Scheduler{
		t:      t,
		job:    job,
		logger: utils.GetLogger().Named("schedule"),
	}
	go s.loop(ctx)

	return s
}

func (s *Scheduler) Begin(interval time.Duration) {
	if interval <= 0 {
		s.Stop()
		return
	}
	s.lock.Lock()
	s.active = true
	s.lock.Unlock()
	s.t.Reset(interval)
	s.logger.Infof("snapshot every %s", interval)
}

func (s *Scheduler) Stop() {
	s.t.Stop()
	s.lock.Lock()
	was := s.active
	s.active = false
	s.lock.Unlock()
	if was {
		s.logger.Info("scheduler: stopped")
	}
}

func (s *Scheduler) Active() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.active
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case start := <-s.t.C:
			if !s.Active() {
				continue
			}
			name, err := s.job()
			if err != nil {
				s.logger.Warnf("scheduler: snapshot err: %s", err)
				continue
			}
			s.logger.Debugf("scheduler: took %s to save %s", time.Since(start), name)
		case <-ctx.Done():
			s.t.Stop()
			return
		}
	}
}
