package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-crm/internal/domain"
)

// Redis keys of the delivery queue.
const (
	QueueKey      = "crm:delivery:queue"
	ProcessingKey = "crm:delivery:processing"
	ClaimsKey     = "crm:delivery:claims"
	DeadLetterKey = "crm:delivery:dead"
)

const enqueueChunk = 500

// Claimed is a job a worker has taken off the queue. Payload is the exact
// list entry and identifies the job in the processing list.
type Claimed struct {
	Job     domain.DeliveryJob
	Payload string
}

// DeliveryQueue is a reliable Redis list queue. Dequeue moves a job into a
// processing list atomically, so a job whose worker dies is never lost: the
// recovery sweep finds it there by its claim timestamp.
type DeliveryQueue struct {
	client *redis.Client
	now    func() time.Time
}

// NewDeliveryQueue creates a queue on client.
func NewDeliveryQueue(client *redis.Client) *DeliveryQueue {
	return &DeliveryQueue{client: client, now: time.Now}
}

// Enqueue pushes jobs in order and returns how many were accepted before the
// first failure.
func (q *DeliveryQueue) Enqueue(ctx context.Context, jobs ...domain.DeliveryJob) (int, error) {
	accepted := 0
	for start := 0; start < len(jobs); start += enqueueChunk {
		end := min(start+enqueueChunk, len(jobs))
		values := make([]interface{}, 0, end-start)
		for _, job := range jobs[start:end] {
			payload, err := json.Marshal(job)
			if err != nil {
				return accepted, fmt.Errorf("encode job %s: %w", job.LogID, err)
			}
			values = append(values, payload)
		}
		if err := q.client.LPush(ctx, QueueKey, values...).Err(); err != nil {
			return accepted, fmt.Errorf("enqueue delivery jobs: %w", err)
		}
		accepted = end
	}
	return accepted, nil
}

// Dequeue blocks up to timeout for a job. It returns nil, nil on timeout.
func (q *DeliveryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Claimed, error) {
	payload, err := q.client.BLMove(ctx, QueueKey, ProcessingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue delivery job: %w", err)
	}
	if err := q.client.HSet(ctx, ClaimsKey, payload, q.now().UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("record claim: %w", err)
	}

	var job domain.DeliveryJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Unreadable entries can never succeed.
		_ = q.moveToDead(ctx, payload)
		return nil, fmt.Errorf("decode delivery job: %w", err)
	}
	return &Claimed{Job: job, Payload: payload}, nil
}

// Ack removes a finished job from the processing list.
func (q *DeliveryQueue) Ack(ctx context.Context, c *Claimed) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey, 1, c.Payload)
		pipe.HDel(ctx, ClaimsKey, c.Payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack delivery job: %w", err)
	}
	return nil
}

// Depth returns the number of jobs waiting to be claimed.
func (q *DeliveryQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueKey).Result()
}

// InFlight returns the number of claimed, unacknowledged jobs.
func (q *DeliveryQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, ProcessingKey).Result()
}

// DeadLetters returns the number of jobs given up on.
func (q *DeliveryQueue) DeadLetters(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, DeadLetterKey).Result()
}

// Stale returns processing entries claimed before now-olderThan. An entry
// without a claim timestamp (its worker died between move and claim) is
// stamped now and picked up by a later sweep.
func (q *DeliveryQueue) Stale(ctx context.Context, olderThan time.Duration) ([]Claimed, error) {
	entries, err := q.client.LRange(ctx, ProcessingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list processing: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	claims, err := q.client.HGetAll(ctx, ClaimsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}

	now := q.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	var stale []Claimed
	seen := make(map[string]bool, len(entries))
	for _, payload := range entries {
		if seen[payload] {
			continue
		}
		seen[payload] = true

		at, ok := claims[payload]
		if !ok {
			q.client.HSetNX(ctx, ClaimsKey, payload, now.UnixMilli())
			continue
		}
		ms, err := strconv.ParseInt(at, 10, 64)
		if err != nil || ms > cutoff {
			continue
		}
		var job domain.DeliveryJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			_ = q.moveToDead(ctx, payload)
			continue
		}
		stale = append(stale, Claimed{Job: job, Payload: payload})
	}
	return stale, nil
}

// Requeue puts a stale job back on the queue with its attempt count bumped.
func (q *DeliveryQueue) Requeue(ctx context.Context, c Claimed) error {
	job := c.Job
	job.Attempts++
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.LogID, err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey, 1, c.Payload)
		pipe.HDel(ctx, ClaimsKey, c.Payload)
		pipe.RPush(ctx, QueueKey, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue delivery job: %w", err)
	}
	return nil
}

// DeadLetter moves a job out of processing for good.
func (q *DeliveryQueue) DeadLetter(ctx context.Context, c Claimed) error {
	return q.moveToDead(ctx, c.Payload)
}

func (q *DeliveryQueue) moveToDead(ctx context.Context, payload string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey, 1, payload)
		pipe.HDel(ctx, ClaimsKey, payload)
		pipe.LPush(ctx, DeadLetterKey, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter delivery job: %w", err)
	}
	return nil
}
