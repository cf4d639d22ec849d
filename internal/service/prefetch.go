package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// PrefetchConfig contains configuration for the prefetcher.
type PrefetchConfig struct {
	Workers   int           // Concurrent prefetches (default 1)
	QueueSize int           // Pending jobs before Submit drops (default 100)
	Timeout   time.Duration // Per-job limit (default 30s)
}

// PrefetchJob names one tile to warm.
type PrefetchJob struct {
	Track      string
	Chrom      string
	Mode       string
	Resolution float64
	Index      int
}

func (j PrefetchJob) key() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d", j.Track, j.Chrom, j.Mode,
		strconv.FormatFloat(j.Resolution, 'f', -1, 64), j.Index)
}

// Prefetcher renders neighbouring tiles in the background so panning
// hits the encoded tile cache.
type Prefetcher struct {
	cfg      PrefetchConfig
	queue    chan PrefetchJob
	queued   map[string]struct{}
	mu       sync.Mutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *log.Entry

	// Executor renders one tile.
	Executor func(ctx context.Context, job PrefetchJob) error
}

// NewPrefetcher creates a prefetcher. Start must be called before jobs run.
func NewPrefetcher(cfg PrefetchConfig) *Prefetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		cfg:    cfg,
		queue:  make(chan PrefetchJob, cfg.QueueSize),
		queued: make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithField("component", "prefetch"),
	}
}

// Start starts the worker goroutines.
func (p *Prefetcher) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop cancels running jobs and waits for the workers.
func (p *Prefetcher) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		p.cancel()
		p.wg.Wait()
	})
}

// Submit enqueues job. It reports false when the job is already queued,
// the queue is full or the prefetcher is stopped.
func (p *Prefetcher) Submit(job PrefetchJob) bool {
	key := job.key()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if _, ok := p.queued[key]; ok {
		return false
	}
	select {
	case p.queue <- job:
		p.queued[key] = struct{}{}
		return true
	default:
		return false
	}
}

// Pending returns the number of queued or running jobs.
func (p *Prefetcher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued)
}

func (p *Prefetcher) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.runJob(job)
	}
}

func (p *Prefetcher) runJob(job PrefetchJob) {
	defer func() {
		p.mu.Lock()
		delete(p.queued, job.key())
		p.mu.Unlock()
	}()
	if p.Executor == nil || p.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()
	if err := p.Executor(ctx, job); err != nil {
		p.logger.WithFields(log.Fields{"track": job.Track, "index": job.Index}).Debugf("prefetch failed: %v", err)
	}
}
