// Package queue implements a durable ingestion task queue on Redis Streams.
// Tasks are delivered to one consumer at a time through a consumer group,
// with at-least-once semantics: failed tasks are re-enqueued with exponential
// backoff until the attempt limit, and deliveries stuck with a dead consumer
// are reclaimed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/jobsink/jobsink/pkg/domain"
)

// backoffMultiplier grows the retry delay per attempt; with the default 5s
// base the redelivery tiers are 5s and 30s.
const backoffMultiplier = 6

// Handler processes one ingestion task
type Handler func(ctx context.Context, task domain.Task) error

// Config holds queue configuration
type Config struct {
	Name        string        // stream key
	Group       string        // consumer group name
	Concurrency int           // max tasks processed simultaneously
	MaxAttempts int           // delivery attempts per task including the first
	BackoffBase time.Duration // delay before the first redelivery
	ClaimIdle   time.Duration // min idle time before reclaiming a stuck delivery
}

// Queue is a durable task queue backed by a Redis stream and consumer group
type Queue struct {
	client   *redis.Client
	consumer string
	cfg      Config
}

// New creates a queue on the given Redis client. The client is owned by the
// caller; the queue never closes it.
func New(client *redis.Client, cfg Config) *Queue {
	if cfg.Name == "" {
		cfg.Name = "job-import-queue"
	}
	if cfg.Group == "" {
		cfg.Group = "importers"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}

	host, _ := os.Hostname()
	return &Queue{
		client:   client,
		consumer: fmt.Sprintf("%s-%d", host, os.Getpid()),
		cfg:      cfg,
	}
}

// Enqueue submits a single task and returns its message ID. The caller is
// responsible for any retry of the enqueue itself.
func (q *Queue) Enqueue(ctx context.Context, task domain.Task) (string, error) {
	if task.Attempt <= 0 {
		task.Attempt = 1
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Name,
		Values: taskToValues(task),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue task for %s: %w", task.URL, err)
	}
	return id, nil
}

// Run consumes tasks until the context is canceled, invoking the handler
// with up to Concurrency tasks in flight. A handler error schedules a
// delayed redelivery while attempts remain; the message is acknowledged
// either way so the retry copy is the only pending delivery.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	go q.retryMover(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Concurrency)

	lgr.Printf("[INFO] queue consumer %s started on %s, concurrency %d", q.consumer, q.cfg.Name, q.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			err := g.Wait()
			lgr.Printf("[INFO] queue consumer %s stopped", q.consumer)
			return err
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.consumer,
			Streams:  []string{q.cfg.Name, ">"},
			Count:    int64(q.cfg.Concurrency),
			Block:    time.Second,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			lgr.Printf("[WARN] queue read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				g.Go(func() error {
					q.process(gctx, h, msg)
					return nil
				})
			}
		}
	}
}

// process runs the handler for one delivered message and settles it
func (q *Queue) process(ctx context.Context, h Handler, msg redis.XMessage) {
	task, err := taskFromValues(msg.Values)
	if err != nil {
		lgr.Printf("[ERROR] dropping malformed task %s: %v", msg.ID, err)
		q.ack(ctx, msg.ID)
		return
	}

	if err := h(ctx, task); err != nil {
		if task.Attempt < q.cfg.MaxAttempts {
			q.scheduleRetry(ctx, task)
			lgr.Printf("[WARN] task for %s failed on attempt %d/%d, retry scheduled: %v",
				task.URL, task.Attempt, q.cfg.MaxAttempts, err)
		} else {
			lgr.Printf("[ERROR] task for %s failed on final attempt %d/%d, giving up: %v",
				task.URL, task.Attempt, q.cfg.MaxAttempts, err)
		}
	}

	q.ack(ctx, msg.ID)
}

// ack acknowledges and removes a settled message
func (q *Queue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.cfg.Name, q.cfg.Group, id).Err(); err != nil && ctx.Err() == nil {
		lgr.Printf("[WARN] failed to ack message %s: %v", id, err)
	}
	if err := q.client.XDel(ctx, q.cfg.Name, id).Err(); err != nil && ctx.Err() == nil {
		lgr.Printf("[WARN] failed to delete message %s: %v", id, err)
	}
}

// scheduleRetry stores the task in the delayed set, scored by the time it
// becomes due: base * multiplier^(attempt-1) after the failed attempt.
func (q *Queue) scheduleRetry(ctx context.Context, task domain.Task) {
	delay := q.cfg.BackoffBase
	for i := 1; i < task.Attempt; i++ {
		delay *= backoffMultiplier
	}

	task.Attempt++
	data, err := json.Marshal(task)
	if err != nil {
		lgr.Printf("[ERROR] failed to marshal retry task for %s: %v", task.URL, err)
		return
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.retryKey(), redis.Z{Score: due, Member: string(data)}).Err(); err != nil {
		lgr.Printf("[ERROR] failed to schedule retry for %s: %v", task.URL, err)
	}
}

// retryMover periodically promotes due delayed tasks back onto the stream
// and reclaims deliveries abandoned by dead consumers
func (q *Queue) retryMover(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	claimTicker := time.NewTicker(30 * time.Second)
	defer claimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.moveDueRetries(ctx)
		case <-claimTicker.C:
			q.reclaimStalled(ctx)
		}
	}
}

// moveDueRetries re-enqueues delayed tasks whose backoff has elapsed
func (q *Queue) moveDueRetries(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		if ctx.Err() == nil {
			lgr.Printf("[WARN] failed to read delayed tasks: %v", err)
		}
		return
	}

	for _, member := range members {
		// only the mover that removes the member re-enqueues it
		removed, err := q.client.ZRem(ctx, q.retryKey(), member).Result()
		if err != nil || removed == 0 {
			continue
		}

		var task domain.Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			lgr.Printf("[ERROR] dropping malformed delayed task: %v", err)
			continue
		}

		if _, err := q.Enqueue(ctx, task); err != nil {
			lgr.Printf("[ERROR] failed to re-enqueue task for %s: %v", task.URL, err)
			continue
		}
		lgr.Printf("[INFO] re-enqueued task for %s, attempt %d/%d", task.URL, task.Attempt, q.cfg.MaxAttempts)
	}
}

// reclaimStalled moves long-pending deliveries back onto the stream as fresh
// messages so tasks stuck with a crashed consumer are not lost
func (q *Queue) reclaimStalled(ctx context.Context) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Name,
		Group:    q.cfg.Group,
		Consumer: q.consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0",
		Count:    100,
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !strings.Contains(err.Error(), "NOGROUP") {
			lgr.Printf("[WARN] failed to reclaim stalled tasks: %v", err)
		}
		return
	}

	for _, msg := range msgs {
		task, terr := taskFromValues(msg.Values)
		if terr != nil {
			lgr.Printf("[ERROR] dropping malformed stalled task %s: %v", msg.ID, terr)
			q.ack(ctx, msg.ID)
			continue
		}

		if _, err := q.Enqueue(ctx, task); err != nil {
			lgr.Printf("[WARN] failed to re-enqueue stalled task for %s: %v", task.URL, err)
			continue
		}
		q.ack(ctx, msg.ID)
		lgr.Printf("[INFO] reclaimed stalled task for %s", task.URL)
	}
}

// ensureGroup creates the consumer group if it doesn't exist yet
func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Name, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *Queue) retryKey() string {
	return q.cfg.Name + ":delayed"
}

// taskToValues converts a task to stream message values
func taskToValues(task domain.Task) map[string]interface{} {
	return map[string]interface{}{
		"url":     task.URL,
		"trigger": string(task.Trigger),
		"attempt": strconv.Itoa(task.Attempt),
	}
}

// taskFromValues restores a task from stream message values
func taskFromValues(values map[string]interface{}) (domain.Task, error) {
	task := domain.Task{Attempt: 1}

	url, ok := values["url"].(string)
	if !ok || url == "" {
		return task, fmt.Errorf("task has no url")
	}
	task.URL = url

	if trigger, ok := values["trigger"].(string); ok {
		task.Trigger = domain.Trigger(trigger)
	}
	if attempt, ok := values["attempt"].(string); ok {
		if n, err := strconv.Atoi(attempt); err == nil && n > 0 {
			task.Attempt = n
		}
	}

	return task, nil
}
