package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/pkg/distlock"
	"github.com/ignite/audience-crm/internal/repository/memory"
	"github.com/ignite/audience-crm/internal/service/sending"
)

func newQueue(t *testing.T) (*DeliveryQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDeliveryQueue(client), mr
}

// pendingCampaign stores an async campaign with n PENDING logs and returns
// one job per log.
func pendingCampaign(t *testing.T, repo *memory.CampaignRepo, n int) (*domain.Campaign, []domain.DeliveryJob) {
	t.Helper()
	now := time.Now().UTC()
	c := &domain.Campaign{ID: "k1", Name: "n", Message: "m", Mode: domain.DeliveryAsync,
		AudienceSize: n, PendingCount: n, CreatedAt: now}
	logs := make([]domain.DeliveryLog, n)
	jobs := make([]domain.DeliveryJob, n)
	for i := range logs {
		logs[i] = domain.DeliveryLog{ID: fmt.Sprintf("l%d", i), CampaignID: c.ID,
			CustomerID: fmt.Sprintf("c%d", i), Status: domain.DeliveryPending, CreatedAt: now}
		jobs[i] = domain.DeliveryJob{LogID: logs[i].ID, CampaignID: c.ID, CustomerID: logs[i].CustomerID,
			Email: fmt.Sprintf("c%d@example.com", i), Message: "m"}
	}
	require.NoError(t, repo.CreateWithLogs(context.Background(), c, logs))
	return c, jobs
}

func TestQueueFIFOAndAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	n, err := q.Enqueue(ctx,
		domain.DeliveryJob{LogID: "a"}, domain.DeliveryJob{LogID: "b"}, domain.DeliveryJob{LogID: "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Job.LogID)

	inFlight, _ := q.InFlight(ctx)
	assert.EqualValues(t, 1, inFlight)

	require.NoError(t, q.Ack(ctx, first))
	inFlight, _ = q.InFlight(ctx)
	assert.EqualValues(t, 0, inFlight)
	depth, _ = q.Depth(ctx)
	assert.EqualValues(t, 2, depth)
}

func TestQueueDequeueTimeout(t *testing.T) {
	q, _ := newQueue(t)
	c, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestQueueStaleRequeueAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	_, err := q.Enqueue(ctx, domain.DeliveryJob{LogID: "a"}, domain.DeliveryJob{LogID: "b"})
	require.NoError(t, err)

	a, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	b, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	stale, err := q.Stale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)

	q.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	stale, err = q.Stale(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 2)

	require.NoError(t, q.Requeue(ctx, Claimed{Job: a.Job, Payload: a.Payload}))
	require.NoError(t, q.DeadLetter(ctx, Claimed{Job: b.Job, Payload: b.Payload}))

	inFlight, _ := q.InFlight(ctx)
	assert.EqualValues(t, 0, inFlight)
	dead, _ := q.DeadLetters(ctx)
	assert.EqualValues(t, 1, dead)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "a", again.Job.LogID)
	assert.Equal(t, 1, again.Job.Attempts)
}

func TestDeliveryWorkerDrainsToZeroPending(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	repo := memory.NewCampaignRepo(nil)
	c, jobs := pendingCampaign(t, repo, 10)
	_, err := q.Enqueue(ctx, jobs...)
	require.NoError(t, err)

	w := NewDeliveryWorker(q, repo, sending.NewSimulated(0.5, 3), 3, nil)
	w.Start(ctx)
	require.Eventually(t, func() bool {
		got, err := repo.Get(ctx, c.ID)
		return err == nil && got.PendingCount == 0
	}, 5*time.Second, 20*time.Millisecond)
	w.Stop()

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalSent+got.TotalFailed)
	assert.True(t, got.Consistent())

	st := w.Stats()
	assert.EqualValues(t, got.TotalSent, st["total_sent"])
	assert.EqualValues(t, got.TotalFailed, st["total_failed"])

	inFlight, _ := q.InFlight(ctx)
	assert.EqualValues(t, 0, inFlight)
}

func TestDeliveryWorkerDuplicateJobIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	repo := memory.NewCampaignRepo(nil)
	c, jobs := pendingCampaign(t, repo, 1)
	_, err := q.Enqueue(ctx, jobs[0], jobs[0])
	require.NoError(t, err)

	w := NewDeliveryWorker(q, repo, sending.NewSimulated(1, 1), 1, nil)
	for i := 0; i < 2; i++ {
		claimed, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		w.Process(ctx, claimed)
	}

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalSent)
	assert.Equal(t, 0, got.PendingCount)
	assert.EqualValues(t, 1, w.Stats()["total_skipped"])
}

func TestQueueRecoveryRunOnce(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	repo := memory.NewCampaignRepo(nil)
	c, jobs := pendingCampaign(t, repo, 2)
	jobs[1].Attempts = MaxRetryCount - 1
	_, err := q.Enqueue(ctx, jobs...)
	require.NoError(t, err)

	for range jobs {
		claimed, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, claimed)
	}
	q.now = func() time.Time { return time.Now().Add(time.Hour) }

	qr := NewQueueRecoveryWorker(q, repo, distlock.NewLocalFactory(), time.Minute, time.Minute, nil)
	res, err := qr.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryResult{Requeued: 1, DeadLettered: 1}, res)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalFailed)
	assert.Equal(t, 1, got.PendingCount)
	assert.True(t, got.Consistent())

	depth, _ := q.Depth(ctx)
	assert.EqualValues(t, 1, depth)
}

func TestQueueRecoverySkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	locks := distlock.NewLocalFactory()
	held := locks(recoveryLockKey, time.Minute)
	ok, _ := held.Acquire(ctx)
	require.True(t, ok)

	qr := NewQueueRecoveryWorker(q, memory.NewCampaignRepo(nil), locks, time.Minute, time.Minute, nil)
	_, err := qr.RunOnce(ctx)
	assert.ErrorIs(t, err, distlock.ErrNotAcquired)
}

func newLimiter(t *testing.T, limit RateLimit) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := NewRateLimiter(client, limit)
	fixed := time.Date(2025, 1, 1, 12, 0, 30, 250*int(time.Millisecond), time.UTC)
	l.now = func() time.Time { return fixed }
	return l, mr
}

func TestRateLimiterPerSecond(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t, RateLimit{PerSecond: 2})

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "simulated")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, wait, err := l.Allow(ctx, "simulated")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 750*time.Millisecond, wait)

	ok, _, err = l.Allow(ctx, "ses")
	require.NoError(t, err)
	assert.True(t, ok, "vendors have separate budgets")

	usage, err := l.Usage(ctx, "simulated")
	require.NoError(t, err)
	assert.EqualValues(t, 2, usage["second_current"])
	assert.EqualValues(t, 2, usage["minute_current"])
}

func TestRateLimiterPerMinuteDeniedCallsCostNothing(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t, RateLimit{PerMinute: 1})

	ok, _, err := l.Allow(ctx, "simulated")
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 3; i++ {
		ok, wait, err := l.Allow(ctx, "simulated")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 30*time.Second, wait)
	}

	usage, err := l.Usage(ctx, "simulated")
	require.NoError(t, err)
	assert.EqualValues(t, 1, usage["minute_current"])
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	l, _ := newLimiter(t, RateLimit{PerMinute: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "simulated"))
	assert.ErrorIs(t, l.Wait(ctx, "simulated"), context.DeadlineExceeded)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	l, mr := newLimiter(t, RateLimit{PerSecond: 1})
	mr.Close()
	assert.NoError(t, l.Wait(context.Background(), "simulated"))
}

type countingLimiter struct{ calls int }

func (c *countingLimiter) Wait(context.Context, string) error {
	c.calls++
	return nil
}

func TestDeliveryWorkerWaitsOnLimiter(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	repo := memory.NewCampaignRepo(nil)
	_, jobs := pendingCampaign(t, repo, 2)
	_, err := q.Enqueue(ctx, jobs...)
	require.NoError(t, err)

	limiter := &countingLimiter{}
	w := NewDeliveryWorker(q, repo, sending.NewSimulated(1, 1), 1, nil)
	w.SetLimiter(limiter)
	for i := 0; i < 2; i++ {
		claimed, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		w.Process(ctx, claimed)
	}
	assert.Equal(t, 2, limiter.calls)
}
