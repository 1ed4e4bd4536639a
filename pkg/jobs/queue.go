// Package jobs is the background job runtime: a Redis-backed reliable
// queue with a BLMOVE-based claim/requeue pattern, soft/hard timeouts, and
// a periodic scheduler for the cleanup sweep.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue names.
const (
	QueueEnvironment = "environment"
	QueueCleanup     = "cleanup"
)

const (
	keyPrefix        = "ephemera:jobs:"
	resultTTL        = time.Hour
	processingSuffix = ":processing"
)

// Task is a unit of work submitted to a queue.
type Task struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Queue is a Redis-backed reliable queue. Submit pushes a task onto the
// named queue's pending list; Claim atomically moves one task from pending
// to a per-worker processing list (via BLMOVE) so a worker that dies mid-task
// leaves the task recoverable rather than silently dropped. Ack removes the
// claimed task from the processing list once it completes.
type Queue struct {
	rdb *redis.Client
}

// NewQueue wraps an existing Redis client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func pendingKey(queue string) string { return keyPrefix + queue }
func processingKey(queue, worker string) string {
	return keyPrefix + queue + processingSuffix + ":" + worker
}
func resultKey(taskID string) string { return keyPrefix + "result:" + taskID }

// Submit enqueues a task and returns its generated ID.
func (q *Queue) Submit(ctx context.Context, queue, name string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling task payload: %w", err)
	}

	task := Task{ID: uuid.NewString(), Name: name, Payload: body, SubmittedAt: time.Now()}
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshalling task: %w", err)
	}

	if err := q.rdb.LPush(ctx, pendingKey(queue), data).Err(); err != nil {
		return "", fmt.Errorf("submitting task to %s: %w", queue, err)
	}
	return task.ID, nil
}

// Claim blocks up to timeout waiting for a task on queue, atomically moving
// it into the worker's processing list. A returned (Task{}, false, nil)
// means the wait timed out with no task available.
func (q *Queue) Claim(ctx context.Context, queue, worker string, timeout time.Duration) (Task, bool, error) {
	raw, err := q.rdb.BLMove(ctx, pendingKey(queue), processingKey(queue, worker), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("claiming task from %s: %w", queue, err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return Task{}, false, fmt.Errorf("decoding claimed task: %w", err)
	}
	return task, true, nil
}

// Ack removes the claimed task from the worker's processing list and
// records its outcome with a 1-hour retention TTL.
func (q *Queue) Ack(ctx context.Context, queue, worker string, task Task, outcome string, resultErr error) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshalling task for ack: %w", err)
	}
	if err := q.rdb.LRem(ctx, processingKey(queue, worker), 1, raw).Err(); err != nil {
		return fmt.Errorf("removing task from processing list: %w", err)
	}

	result := map[string]any{"outcome": outcome, "completed_at": time.Now()}
	if resultErr != nil {
		result["error"] = resultErr.Error()
	}
	data, _ := json.Marshal(result)
	if err := q.rdb.Set(ctx, resultKey(task.ID), data, resultTTL).Err(); err != nil {
		return fmt.Errorf("recording task result: %w", err)
	}
	return nil
}

// Requeue moves a claimed task back onto the pending list, used when a
// worker observes its own processing list holds stale entries after a
// crash-and-restart (the entries are re-read at startup and requeued once).
func (q *Queue) Requeue(ctx context.Context, queue, worker string, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshalling task for requeue: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey(queue, worker), 1, raw)
	pipe.LPush(ctx, pendingKey(queue), raw)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeuing task %s: %w", task.ID, err)
	}
	return nil
}

// PendingProcessing lists tasks left in a worker's processing list, used at
// worker startup to recover tasks orphaned by a previous crash.
func (q *Queue) PendingProcessing(ctx context.Context, queue, worker string) ([]Task, error) {
	raws, err := q.rdb.LRange(ctx, processingKey(queue, worker), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing processing tasks: %w", err)
	}
	tasks := make([]Task, 0, len(raws))
	for _, raw := range raws {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
