package utils

import (
	"sync"
	"time"
)

// WorkerPool bounds the number of concurrently running jobs and optionally
// spaces job starts by a minimum interval. The pipeline uses it for the
// dimension fan-out; the scraper shares the interval logic for politeness.
type WorkerPool struct {
	rateLimit time.Duration
	semaphore chan struct{}
	wg        sync.WaitGroup

	mu        sync.Mutex
	lastStart time.Time
}

// NewWorkerPool creates a pool running at most maxWorkers jobs at once.
// A rateLimitMs of 0 disables start spacing.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	return &WorkerPool{
		rateLimit: time.Duration(rateLimitMs) * time.Millisecond,
		semaphore: make(chan struct{}, maxWorkers),
		lastStart: time.Now(),
	}
}

// Submit blocks until a worker slot is free, then runs job in its own
// goroutine.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if wp.rateLimit > 0 {
			wp.spaceStart()
		}
		job()
	}()
}

// Wait blocks until every submitted job has finished.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) spaceStart() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if elapsed := time.Since(wp.lastStart); elapsed < wp.rateLimit {
		time.Sleep(wp.rateLimit - elapsed)
	}
	wp.lastStart = time.Now()
}

// URLSet tracks listing links already collected during pagination so the
// same card is never emitted twice. Safe for concurrent use.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add records url and reports whether it was new.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Contains reports whether url has been recorded.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[url]
	return exists
}

// Size returns the number of unique urls recorded.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
