package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sabiut/ephemera/internal/telemetry"
)

// HandlerFunc processes one task's payload. A soft-timeout context is
// passed in; handlers that respect ctx.Done() get a chance to exit cleanly
// before the hard timeout forcibly abandons the task.
type HandlerFunc func(ctx context.Context, task Task) error

// Worker claims and processes tasks from a single queue, one at a time
// (prefetch=1): the next claim only happens after the current task's ack,
// so a slow task never starves the queue's liveness metrics of meaning.
type Worker struct {
	Queue       *Queue
	QueueName   string
	WorkerID    string
	Handlers    map[string]HandlerFunc
	SoftTimeout time.Duration
	HardTimeout time.Duration
	Logger      *slog.Logger
}

// Run claims tasks from the queue until ctx is cancelled. Any task whose
// name has no registered handler is acked as a failure rather than left to
// block the queue forever.
func (w *Worker) Run(ctx context.Context) {
	w.recoverOrphaned(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := w.Queue.Claim(ctx, w.QueueName, w.WorkerID, 5*time.Second)
		if err != nil {
			w.Logger.Error("claiming task failed", "queue", w.QueueName, "error", err)
			continue
		}
		if !ok {
			continue
		}

		w.process(ctx, task)
	}
}

func (w *Worker) recoverOrphaned(ctx context.Context) {
	orphaned, err := w.Queue.PendingProcessing(ctx, w.QueueName, w.WorkerID)
	if err != nil {
		w.Logger.Error("listing orphaned tasks failed", "queue", w.QueueName, "error", err)
		return
	}
	for _, t := range orphaned {
		if err := w.Queue.Requeue(ctx, w.QueueName, w.WorkerID, t); err != nil {
			w.Logger.Error("requeuing orphaned task failed", "task", t.ID, "error", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, task Task) {
	telemetry.JobsInFlight.WithLabelValues(w.QueueName).Inc()
	defer telemetry.JobsInFlight.WithLabelValues(w.QueueName).Dec()

	handler, ok := w.Handlers[task.Name]
	if !ok {
		err := fmt.Errorf("no handler registered for task %q", task.Name)
		w.finish(ctx, task, "failed", err)
		return
	}

	hardCtx, cancel := context.WithTimeout(ctx, w.HardTimeout)
	defer cancel()

	softCtx, softCancel := context.WithTimeout(hardCtx, w.SoftTimeout)
	defer softCancel()

	done := make(chan error, 1)
	go func() { done <- handler(softCtx, task) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(w.HardTimeout):
		err = fmt.Errorf("task exceeded hard timeout %s and was abandoned", w.HardTimeout)
	}
	outcome := "success"
	if err != nil {
		outcome = "failed"
		w.Logger.Error("task failed", "queue", w.QueueName, "task", task.Name, "id", task.ID, "error", err)
	}
	w.finish(ctx, task, outcome, err)
}

func (w *Worker) finish(ctx context.Context, task Task, outcome string, err error) {
	telemetry.JobsProcessedTotal.WithLabelValues(w.QueueName, outcome).Inc()
	if ackErr := w.Queue.Ack(ctx, w.QueueName, w.WorkerID, task, outcome, err); ackErr != nil {
		w.Logger.Error("acking task failed", "task", task.ID, "error", ackErr)
	}
}
