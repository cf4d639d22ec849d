package service

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPrefetcherRunsJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]int)
	release := make(chan struct{})

	p := NewPrefetcher(PrefetchConfig{Workers: 1, QueueSize: 4})
	p.Executor = func(ctx context.Context, job PrefetchJob) error {
		<-release
		mu.Lock()
		seen[job.Index]++
		mu.Unlock()
		return nil
	}
	p.Start()
	defer p.Stop()

	job := PrefetchJob{Track: "genes", Chrom: "chr1", Resolution: 1, Index: 1}
	if !p.Submit(job) {
		t.Fatal("expected first submit to be queued")
	}
	if p.Submit(job) {
		t.Fatal("expected duplicate submit to be dropped")
	}
	job.Index = 2
	if !p.Submit(job) {
		t.Fatal("expected second job to be queued")
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for p.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not finish, pending=%d", p.Pending())
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen[1] != 1 || seen[2] != 1 {
		t.Fatalf("expected each job once, got %v", seen)
	}
}

func TestPrefetcherStop(t *testing.T) {
	p := NewPrefetcher(PrefetchConfig{})
	p.Start()
	p.Stop()
	p.Stop()
	if p.Submit(PrefetchJob{Track: "genes"}) {
		t.Fatal("expected submit after stop to be rejected")
	}
}

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakePruner) DeleteOlderThan(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, nil
}

func TestJanitorCleansOnStart(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pr := &fakePruner{}
	j := NewJanitor(pr, 48*time.Hour, time.Hour)
	j.now = func() time.Time { return now }
	j.Start()
	j.Stop()

	pr.mu.Lock()
	defer pr.mu.Unlock()
	if len(pr.cutoffs) != 1 {
		t.Fatalf("expected one cleanup, got %d", len(pr.cutoffs))
	}
	if want := now.Add(-48 * time.Hour); !pr.cutoffs[0].Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, pr.cutoffs[0])
	}
}
