// Package scheduler runs pipeline stage sequences for labels one at a time,
// with replace-on-enqueue and cooperative cancellation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northbeat/scout-cli/internal/model"
)

// StageRunner executes the ordered stage sequence for one enqueued label.
// It must honor ctx cancellation between stages and artists.
type StageRunner interface {
	RunStages(ctx context.Context, labelID string) error
}

// StatusStore persists pipeline run status per label.
type StatusStore interface {
	SetPipelineStatus(ctx context.Context, labelID string, status model.RunStatus, startedAt, completedAt *time.Time) error
	PipelineStatus(ctx context.Context, labelID string) (*model.PipelineRun, error)
}

// Scheduler is a single-worker FIFO queue of label pipeline runs. One stage
// sequence executes at a time system-wide; enqueue with replace cancels the
// in-flight run and drains everything still queued.
type Scheduler struct {
	runner   StageRunner
	statuses StatusStore

	mu      sync.Mutex
	queue   []string
	current *currentRun
	wake    chan struct{}
	done    chan struct{}
	started bool
}

type currentRun struct {
	labelID string
	cancel  context.CancelFunc
}

// New creates a Scheduler. Call Start to launch the worker.
func New(runner StageRunner, statuses StatusStore) *Scheduler {
	return &Scheduler{
		runner:   runner,
		statuses: statuses,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the background worker. The worker exits when ctx is
// canceled; Wait blocks until it has.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.worker(ctx)
}

// Wait blocks until the worker goroutine has exited.
func (s *Scheduler) Wait() {
	<-s.done
}

// Enqueue queues a pipeline run for the label. With replace, the in-flight
// run is canceled and every queued-but-not-started label is drained and
// marked canceled first, so only the newly enqueued label survives.
func (s *Scheduler) Enqueue(ctx context.Context, labelID string, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if replace {
		if s.current != nil {
			s.current.cancel()
		}
		now := time.Now().UTC()
		for _, drained := range s.queue {
			if err := s.statuses.SetPipelineStatus(ctx, drained, model.RunStatusCanceled, nil, &now); err != nil {
				zap.L().Warn("scheduler: failed to mark drained label canceled",
					zap.String("label_id", drained), zap.Error(err))
			}
		}
		s.queue = s.queue[:0]
	}

	s.queue = append(s.queue, labelID)
	if err := s.statuses.SetPipelineStatus(ctx, labelID, model.RunStatusQueued, nil, nil); err != nil {
		return eris.Wrapf(err, "scheduler: mark %s queued", labelID)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel stops the label's run. A running label is signaled to stop at its
// next checkpoint; a queued label is removed without ever running. Returns
// whether anything was actually canceled.
func (s *Scheduler) Cancel(ctx context.Context, labelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	canceled := false
	if s.current != nil && s.current.labelID == labelID {
		s.current.cancel()
		canceled = true
	}

	for i, queued := range s.queue {
		if queued != labelID {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		now := time.Now().UTC()
		if err := s.statuses.SetPipelineStatus(ctx, labelID, model.RunStatusCanceled, nil, &now); err != nil {
			zap.L().Warn("scheduler: failed to mark canceled",
				zap.String("label_id", labelID), zap.Error(err))
		}
		canceled = true
		break
	}

	return canceled
}

// Status returns the label's durable pipeline run state.
func (s *Scheduler) Status(ctx context.Context, labelID string) (*model.PipelineRun, error) {
	return s.statuses.PipelineStatus(ctx, labelID)
}

func (s *Scheduler) worker(ctx context.Context) {
	defer close(s.done)
	log := zap.L().With(zap.String("component", "scheduler"))

	for {
		labelID, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		s.runOne(ctx, labelID, log)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Scheduler) dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	labelID := s.queue[0]
	s.queue = s.queue[1:]
	return labelID, true
}

func (s *Scheduler) runOne(ctx context.Context, labelID string, log *zap.Logger) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.current = &currentRun{labelID: labelID, cancel: cancel}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	// Status writes survive cancellation of the run itself.
	statusCtx := context.WithoutCancel(ctx)

	started := time.Now().UTC()
	if err := s.statuses.SetPipelineStatus(statusCtx, labelID, model.RunStatusRunning, &started, nil); err != nil {
		log.Warn("failed to mark running", zap.String("label_id", labelID), zap.Error(err))
	}
	log.Info("pipeline run started", zap.String("label_id", labelID))

	err := s.runner.RunStages(runCtx, labelID)
	completed := time.Now().UTC()

	var status model.RunStatus
	switch {
	case err != nil && (eris.Is(err, context.Canceled) || runCtx.Err() != nil):
		status = model.RunStatusCanceled
		log.Info("pipeline run canceled", zap.String("label_id", labelID))
	case err != nil:
		status = model.RunStatusError
		log.Error("pipeline run failed", zap.String("label_id", labelID), zap.Error(err))
	default:
		status = model.RunStatusComplete
		log.Info("pipeline run complete",
			zap.String("label_id", labelID),
			zap.Duration("duration", completed.Sub(started)),
		)
	}

	if err := s.statuses.SetPipelineStatus(statusCtx, labelID, status, nil, &completed); err != nil {
		log.Warn("failed to mark final status",
			zap.String("label_id", labelID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
