package service

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pruner deletes stored payloads older than a cutoff.
type Pruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// Janitor periodically drops expired payloads from the store.
type Janitor struct {
	store     Pruner
	retention time.Duration
	period    time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewJanitor creates a janitor keeping payloads for retention.
func NewJanitor(store Pruner, retention, period time.Duration) *Janitor {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if period <= 0 {
		period = time.Hour
	}
	return &Janitor{
		store:     store,
		retention: retention,
		period:    period,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// Start runs one cleanup at once and then one per period.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.cleanup()
		ticker := time.NewTicker(j.period)
		defer ticker.Stop()
		for {
			select {
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.cleanup()
			}
		}
	}()
}

// Stop stops the janitor.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()
	})
}

func (j *Janitor) cleanup() {
	deleted, err := j.store.DeleteOlderThan(j.now().Add(-j.retention))
	if err != nil {
		log.WithField("component", "janitor").Warnf("cleanup error: %v", err)
	} else if deleted > 0 {
		log.WithField("component", "janitor").Infof("cleaned up %d expired payloads", deleted)
	}
}
