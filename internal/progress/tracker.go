// Package progress tracks per-run work counters and enforces their invariant.
package progress

import (
	"fmt"
	"sync"
)

// Tracker holds the mutable counters for one crawl run. Every stage reports
// through it so log lines can show [current/total]. It is safe for concurrent
// use, though a single run mutates it from one goroutine today.
type Tracker struct {
	mu              sync.Mutex
	current         int
	total           int
	pagesProcessed  int
	imagesProcessed int
}

// NewTracker returns a Tracker with total preset to the initially known work.
func NewTracker(total int) *Tracker {
	if total < 0 {
		total = 0
	}
	return &Tracker{total: total}
}

// AddToTotal grows total as new pages or images are discovered mid-run.
// Total only ever grows; callers never shrink it when discovered work turns
// out to be skippable.
func (t *Tracker) AddToTotal(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.total += n
	t.mu.Unlock()
}

// Increment records one attempted unit of work, failed attempts and skips
// included. A result exceeding total is a programming error and is reported
// rather than clamped.
func (t *Tracker) Increment() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current+1 > t.total {
		return fmt.Errorf("progress counter corrupt: current %d would exceed total %d", t.current+1, t.total)
	}
	t.current++
	return nil
}

// IncPages records one processed page.
func (t *Tracker) IncPages() {
	t.mu.Lock()
	t.pagesProcessed++
	t.mu.Unlock()
}

// IncImages records one processed image.
func (t *Tracker) IncImages() {
	t.mu.Lock()
	t.imagesProcessed++
	t.mu.Unlock()
}

// Snapshot returns the current counter values.
func (t *Tracker) Snapshot() (current, total, pages, images int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.total, t.pagesProcessed, t.imagesProcessed
}

// String renders the [current/total] form used in job logs.
func (t *Tracker) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("[%d/%d]", t.current, t.total)
}
