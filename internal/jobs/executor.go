package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/metrics"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// Handler executes one job. It receives the claimed job and a log sink that
// appends lines to the job record. Returning scrape.ErrCancelled means the
// handler observed cancellation; any other error fails the job.
type Handler func(ctx context.Context, job Job, log func(string)) (any, error)

// executorStore is the slice of Store the executor needs.
type executorStore interface {
	ClaimNext(ctx context.Context) (Job, bool, error)
	AppendLog(ctx context.Context, id, line string) error
	Finish(ctx context.Context, id string, success bool, result any, errMsg string) (Status, error)
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}

// ExecutorConfig controls polling and event publishing.
type ExecutorConfig struct {
	PollInterval       time.Duration
	CancelPollInterval time.Duration
	Topic              string
}

// Executor claims queued jobs and runs registered handlers. A watcher
// goroutine polls the job's cancel flag and cancels the handler context when
// it is set; the store's Finish CASE then records the cancelled status.
type Executor struct {
	store     executorStore
	publisher scrape.Publisher
	handlers  map[string]Handler
	cfg       ExecutorConfig
	logger    *zap.Logger
}

// NewExecutor builds an Executor. The publisher may be nil.
func NewExecutor(store executorStore, publisher scrape.Publisher, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CancelPollInterval <= 0 {
		cfg.CancelPollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:     store,
		publisher: publisher,
		handlers:  make(map[string]Handler),
		cfg:       cfg,
		logger:    logger,
	}
}

// Register associates a handler with a job name. Not safe to call after Run
// starts.
func (e *Executor) Register(name string, handler Handler) {
	e.handlers[name] = handler
}

// Run claims and executes jobs until ctx finishes. A job already running
// when shutdown begins is drained to completion rather than aborted.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, claimed, err := e.store.ClaimNext(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("claim next job failed", zap.Error(err))
		case claimed:
			e.logger.Info("claimed job",
				zap.String("job_id", job.ID), zap.String("name", job.Name))
			e.runJob(job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runJob executes one claimed job to its terminal state. The handler context
// is detached from the executor's run context so shutdown drains the job;
// only a cancel request stops it early.
func (e *Executor) runJob(job Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcherDone := make(chan struct{})
	go e.watchCancel(ctx, job.ID, cancel, watcherDone)

	result, err := e.dispatch(ctx, job)

	cancel()
	<-watcherDone

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()

	success := err == nil
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	status, finishErr := e.store.Finish(finishCtx, job.ID, success, result, errMsg)
	if finishErr != nil {
		if errors.Is(finishErr, ErrAlreadyTerminal) {
			// A queued-state delete or a racing finisher got there first.
			e.logger.Warn("job finished elsewhere", zap.String("job_id", job.ID))
			return
		}
		e.logger.Error("finish job failed",
			zap.String("job_id", job.ID), zap.Error(finishErr))
		return
	}

	metrics.JobFinished(string(status))
	e.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.String("error", errMsg))
	e.publishCompletion(finishCtx, job, status, errMsg)
}

func (e *Executor) dispatch(ctx context.Context, job Job) (any, error) {
	handler, ok := e.handlers[job.Name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job %q", job.Name)
	}

	log := func(line string) {
		if err := e.store.AppendLog(ctx, job.ID, line); err != nil {
			e.logger.Warn("append job log failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return handler(ctx, job, log)
}

// watchCancel polls the cancel flag until the job context ends, cancelling
// the handler when the flag is observed. A vanished row also cancels: the
// queued-state delete can race a concurrent claim.
func (e *Executor) watchCancel(ctx context.Context, id string, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		requested, err := e.store.IsCancelRequested(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				cancel()
				return
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("cancel flag check failed",
				zap.String("job_id", id), zap.Error(err))
			continue
		}
		if requested {
			e.logger.Info("cancel requested, stopping job", zap.String("job_id", id))
			cancel()
			return
		}
	}
}

func (e *Executor) publishCompletion(ctx context.Context, job Job, status Status, errMsg string) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"job_id": job.ID,
		"name":   job.Name,
		"status": string(status),
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, payload); err != nil {
		e.logger.Warn("publish completion event failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}
