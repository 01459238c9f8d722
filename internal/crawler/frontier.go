package crawler

// Frontier is the crawl's work queue. URLs are tracked under two identities:
// the queued set keyed by the requested URL, so the same link is never
// enqueued twice, and the visited set keyed by the final post-redirect URL,
// so aliases collapsing onto one page are scraped once.
type Frontier struct {
	pending []string
	queued  map[string]bool
	visited map[string]bool
}

// NewFrontier seeds the queue with the initial URLs, deduplicated in order.
func NewFrontier(urls []string) *Frontier {
	f := &Frontier{
		queued:  make(map[string]bool),
		visited: make(map[string]bool),
	}
	f.Add(urls)
	return f
}

// Next pops the oldest pending URL. The second return is false when the
// frontier is exhausted.
func (f *Frontier) Next() (string, bool) {
	if len(f.pending) == 0 {
		return "", false
	}
	url := f.pending[0]
	f.pending = f.pending[1:]
	return url, true
}

// Add enqueues URLs not seen before and returns how many were newly added.
func (f *Frontier) Add(urls []string) int {
	added := 0
	for _, u := range urls {
		if u == "" || f.queued[u] {
			continue
		}
		f.queued[u] = true
		f.pending = append(f.pending, u)
		added++
	}
	return added
}

// Known reports whether the URL was ever enqueued.
func (f *Frontier) Known(url string) bool {
	return f.queued[url]
}

// MarkVisited records a final post-redirect URL as scraped.
func (f *Frontier) MarkVisited(finalURL string) {
	f.visited[finalURL] = true
}

// Visited reports whether the final URL was already scraped.
func (f *Frontier) Visited(finalURL string) bool {
	return f.visited[finalURL]
}

// PendingCount returns the number of URLs waiting in the queue.
func (f *Frontier) PendingCount() int {
	return len(f.pending)
}
