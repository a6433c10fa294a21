package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

const (
	// Streams. Interactive work goes to the main lane; tasks with a
	// negative priority (paragraph prefetch) go to the background lane,
	// which is only read when the main lane is empty.
	taskStream       = "tutor:tasks"
	backgroundStream = "tutor:tasks:background"
	taskGroup        = "tutor:workers"
	scheduledTasks   = "tutor:scheduled"

	// Key prefixes
	taskKeyPrefix = "tutor:task:"

	// Default consumer name prefix
	consumerPrefix = "worker-"

	// Claim timeout - how long before a task is considered abandoned
	claimTimeout = 5 * time.Minute

	taskTTL = 24 * time.Hour
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements TaskQueue using Redis Streams with a consumer group per lane.
type Queue struct {
	client       *redis.Client
	consumerName string
}

// NewQueue creates a new Redis-backed task queue.
// The consumerName should be unique per worker instance (e.g., hostname + PID).
func NewQueue(client *redis.Client, consumerName string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
	}

	ctx := context.Background()
	for _, stream := range []string{taskStream, backgroundStream} {
		err := q.client.XGroupCreateMkStream(ctx, stream, taskGroup, "0").Err()
		if err != nil && !isGroupExistsError(err) {
			return nil, fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}

	return q, nil
}

func laneOf(task *domain.Task) string {
	if task.Priority < 0 {
		return backgroundStream
	}
	return taskStream
}

func streamValues(task *domain.Task) map[string]any {
	return map[string]any{
		"task_id":  task.ID,
		"type":     string(task.Type),
		"owner_id": task.OwnerID,
		"priority": task.Priority,
	}
}

func (q *Queue) saveTask(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, taskTTL)
	return nil
}

// Enqueue adds a task to its lane, or to the delay set when scheduled
// for later.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	pipe := q.client.TxPipeline()
	if err := q.saveTask(ctx, pipe, task); err != nil {
		return err
	}

	if task.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	} else {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: laneOf(task), Values: streamValues(task)})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// DequeueWithTimeout retrieves the next available task, waiting up to
// timeout seconds. Returns nil, nil when nothing arrived in time.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	// best effort; a failed promotion is retried on the next poll
	_ = q.promoteScheduledTasks(ctx)

	if task, err := q.claimAbandonedTask(ctx); err == nil && task != nil {
		return task, nil
	}

	// Drain the main lane first without blocking
	streams, err := q.read(ctx, []string{taskStream, ">"}, -1)
	if err == nil && len(streams) == 0 {
		// Block 0 would wait forever
		block := time.Duration(timeout) * time.Second
		if timeout <= 0 {
			block = -1
		}
		streams, err = q.read(ctx, []string{taskStream, backgroundStream, ">", ">"}, block)
	}
	if err != nil {
		return nil, err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			task, err := q.take(ctx, stream.Stream, msg)
			if err != nil || task != nil {
				return task, err
			}
		}
	}
	return nil, nil
}

// read returns the streams that had a message. A negative block does not wait.
func (q *Queue) read(ctx context.Context, streams []string, block time.Duration) ([]redis.XStream, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  streams,
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []redis.XStream
	for _, s := range res {
		if len(s.Messages) > 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

// take marks the task behind msg as processing and remembers where the
// message lives for Ack and Nack. Invalid or expired messages are dropped.
func (q *Queue) take(ctx context.Context, stream string, msg redis.XMessage) (*domain.Task, error) {
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		q.drop(ctx, stream, msg.ID)
		return nil, nil
	}

	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		q.drop(ctx, stream, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task data: %w", err)
	}

	task.MarkProcessing()

	pipe := q.client.TxPipeline()
	if err := q.saveTask(ctx, pipe, task); err != nil {
		return nil, err
	}
	pipe.Set(ctx, taskKeyPrefix+task.ID+":msg", stream+"|"+msg.ID, taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark task processing: %w", err)
	}
	return task, nil
}

func (q *Queue) drop(ctx context.Context, stream, msgID string) {
	q.client.XAck(ctx, stream, taskGroup, msgID)
	q.client.XDel(ctx, stream, msgID)
}

// message returns the stream and message ID a processing task was read from
func (q *Queue) message(ctx context.Context, taskID string) (stream, msgID string, err error) {
	ref, err := q.client.Get(ctx, taskKeyPrefix+taskID+":msg").Result()
	if errors.Is(err, redis.Nil) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to get message ID: %w", err)
	}
	stream, msgID, _ = strings.Cut(ref, "|")
	return stream, msgID, nil
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	stream, msgID, err := q.message(ctx, taskID)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, stream, taskGroup, msgID)
		pipe.XDel(ctx, stream, msgID)
	}

	task, err := q.GetTask(ctx, taskID)
	if err == nil {
		task.MarkCompleted()
		if err := q.saveTask(ctx, pipe, task); err != nil {
			return err
		}
	}
	pipe.Del(ctx, taskKeyPrefix+taskID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return nil
}

// Nack records a failure and schedules a retry through the delay set,
// or marks the task failed once its attempts are used up.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}
	stream, msgID, err := q.message(ctx, taskID)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, stream, taskGroup, msgID)
		pipe.XDel(ctx, stream, msgID)
	}

	if task.CanRetry() {
		task.Retry(reason)
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	} else {
		task.MarkFailed(reason)
	}
	if err := q.saveTask(ctx, pipe, task); err != nil {
		return err
	}
	pipe.Del(ctx, taskKeyPrefix+taskID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
// Returns domain.ErrNotFound once the task data has expired.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKeyPrefix+taskID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close cleans up resources. The Redis client is shared and stays open.
func (q *Queue) Close() error {
	return nil
}

// promoteScheduledTasks moves due delayed tasks onto their lane.
func (q *Queue) promoteScheduledTasks(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", time.Now().Unix()),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	for _, taskID := range due {
		// ZRem decides which poller promotes the task
		removed, err := q.client.ZRem(ctx, scheduledTasks, taskID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			continue
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: laneOf(task), Values: streamValues(task)}).Err(); err != nil {
			return err
		}
	}
	return nil
}

// claimAbandonedTask claims a task whose worker stopped without acking it.
func (q *Queue) claimAbandonedTask(ctx context.Context) (*domain.Task, error) {
	for _, stream := range []string{taskStream, backgroundStream} {
		pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  taskGroup,
			Start:  "-",
			End:    "+",
			Count:  10,
			Idle:   claimTimeout,
		}).Result()
		if err != nil {
			return nil, err
		}

		for _, p := range pending {
			claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    taskGroup,
				Consumer: q.consumerName,
				MinIdle:  claimTimeout,
				Messages: []string{p.ID},
			}).Result()
			if err != nil || len(claimed) == 0 {
				continue
			}
			task, err := q.take(ctx, stream, claimed[0])
			if err != nil || task != nil {
				return task, err
			}
		}
	}
	return nil, nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
