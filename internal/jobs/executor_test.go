package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/publisher/memory"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// memJobStore is an in-memory executorStore mirroring the Postgres
// transition rules, including cancelled-beats-completion.
type memJobStore struct {
	mu    sync.Mutex
	queue []Job
	jobs  map[string]*Job
}

func newMemJobStore(jobs ...Job) *memJobStore {
	s := &memJobStore{jobs: make(map[string]*Job)}
	for _, j := range jobs {
		j := j
		j.Status = StatusQueued
		s.jobs[j.ID] = &j
		s.queue = append(s.queue, j)
	}
	return s
}

func (s *memJobStore) ClaimNext(context.Context) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		stored, ok := s.jobs[next.ID]
		if !ok || stored.Status != StatusQueued {
			continue
		}
		now := time.Now()
		stored.Status = StatusRunning
		stored.StartedAt = &now
		return *stored, true, nil
	}
	return Job{}, false, nil
}

func (s *memJobStore) AppendLog(_ context.Context, id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Logs == "" {
		job.Logs = line
	} else {
		job.Logs += "\n" + line
	}
	return nil
}

func (s *memJobStore) Finish(_ context.Context, id string, success bool, _ any, errMsg string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return "", ErrAlreadyTerminal
	}
	if job.Status.Terminal() {
		return "", ErrAlreadyTerminal
	}
	switch {
	case job.CancelRequested:
		job.Status = StatusCancelled
	case success:
		job.Status = StatusCompleted
	default:
		job.Status = StatusFailed
	}
	job.Error = errMsg
	now := time.Now()
	job.FinishedAt = &now
	return job.Status, nil
}

func (s *memJobStore) IsCancelRequested(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	return job.CancelRequested, nil
}

func (s *memJobStore) requestCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.CancelRequested = true
	}
}

func (s *memJobStore) get(id string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func runExecutorOnce(t *testing.T, exec *Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		exec.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop")
	}
}

func testExecConfig() ExecutorConfig {
	return ExecutorConfig{
		PollInterval:       10 * time.Millisecond,
		CancelPollInterval: 5 * time.Millisecond,
		Topic:              "job-events",
	}
}

func TestExecutorRunsHandlerToCompletion(t *testing.T) {
	t.Parallel()

	store := newMemJobStore(Job{ID: "job-1", Name: "scrape_site", Args: []byte(`{}`)})
	pub := memory.New()
	exec := NewExecutor(store, pub, testExecConfig(), zap.NewNop())

	handled := make(chan struct{})
	exec.Register("scrape_site", func(_ context.Context, job Job, log func(string)) (any, error) {
		log("starting crawl")
		log("crawl done")
		close(handled)
		return map[string]int{"pages": 2}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-handled
		// Let the terminal transition land before stopping the loop.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	exec.Run(ctx)

	job := store.get("job-1")
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, []string{"starting crawl", "crawl done"}, strings.Split(job.Logs, "\n"))
	require.NotNil(t, job.FinishedAt)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "job-events", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "job-1", payload["job_id"])
	assert.Equal(t, "completed", payload["status"])
}

func TestExecutorHandlerErrorFailsJob(t *testing.T) {
	t.Parallel()

	store := newMemJobStore(Job{ID: "job-1", Name: "scrape_site"})
	exec := NewExecutor(store, nil, testExecConfig(), zap.NewNop())

	handled := make(chan struct{})
	exec.Register("scrape_site", func(context.Context, Job, func(string)) (any, error) {
		close(handled)
		return nil, errors.New("root url unreachable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-handled
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	exec.Run(ctx)

	job := store.get("job-1")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "root url unreachable", job.Error)
}

func TestExecutorUnknownJobNameFails(t *testing.T) {
	t.Parallel()

	store := newMemJobStore(Job{ID: "job-1", Name: "mystery"})
	exec := NewExecutor(store, nil, testExecConfig(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	exec.Run(ctx)

	job := store.get("job-1")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "no handler registered")
}

func TestExecutorCancelFlagStopsHandler(t *testing.T) {
	t.Parallel()

	store := newMemJobStore(Job{ID: "job-1", Name: "scrape_site"})
	pub := memory.New()
	exec := NewExecutor(store, pub, testExecConfig(), zap.NewNop())

	started := make(chan struct{})
	exec.Register("scrape_site", func(ctx context.Context, _ Job, _ func(string)) (any, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, scrape.ErrCancelled
		case <-time.After(5 * time.Second):
			return nil, errors.New("handler was never cancelled")
		}
	})

	runCtx, stop := context.WithCancel(context.Background())
	go func() {
		<-started
		store.requestCancel("job-1")
		time.Sleep(200 * time.Millisecond)
		stop()
	}()
	exec.Run(runCtx)

	job := store.get("job-1")
	assert.Equal(t, StatusCancelled, job.Status)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	payload := msgs[0].Payload.(map[string]any)
	assert.Equal(t, "cancelled", payload["status"])
}

func TestExecutorIdleLoopStopsOnContext(t *testing.T) {
	t.Parallel()

	store := newMemJobStore()
	exec := NewExecutor(store, nil, testExecConfig(), zap.NewNop())
	runExecutorOnce(t, exec)
}
