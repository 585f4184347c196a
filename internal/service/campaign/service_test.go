package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/pkg/distlock"
	"github.com/ignite/audience-crm/internal/repository/memory"
	"github.com/ignite/audience-crm/internal/service/campaign"
	"github.com/ignite/audience-crm/internal/service/sending"
)

// failEvery fails recipients whose customer id is listed.
type failEvery struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (v *failEvery) Send(_ context.Context, to sending.Recipient, _ string) sending.Outcome {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.fail[to.CustomerID] {
		return sending.Failed(errors.New("bounced"))
	}
	return sending.Sent("m-" + to.CustomerID)
}

func (v *failEvery) Name() string { return "fake" }

type fakeQueue struct {
	jobs   []domain.DeliveryJob
	accept int
	err    error
}

func (q *fakeQueue) Enqueue(_ context.Context, jobs ...domain.DeliveryJob) (int, error) {
	n := len(jobs)
	if q.err != nil && q.accept < n {
		n = q.accept
	}
	q.jobs = append(q.jobs, jobs[:n]...)
	if n < len(jobs) {
		return n, q.err
	}
	return n, nil
}

type fixture struct {
	campaigns *memory.CampaignRepo
	segments  *memory.SegmentRepo
	customers *memory.CustomerRepo
	vendor    *failEvery
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		campaigns: memory.NewCampaignRepo(nil),
		segments:  memory.NewSegmentRepo(),
		customers: memory.NewCustomerRepo(),
		vendor:    &failEvery{fail: map[string]bool{}},
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"A", "B", "C", "D"} {
		require.NoError(t, f.customers.Create(ctx, &domain.Customer{
			ID: id, FirstName: "Cust", LastName: id,
			Email:     fmt.Sprintf("%s@example.com", id),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, f.segments.Create(ctx, &domain.Segment{ID: "s1", Name: "one", Customers: []string{"A", "B", "C"}, CreatedAt: base}))
	require.NoError(t, f.segments.Create(ctx, &domain.Segment{ID: "s2", Name: "two", Customers: []string{"B", "C", "D"}, CreatedAt: base}))
	return f
}

func (f *fixture) service(opts ...campaign.Option) *campaign.Service {
	return campaign.NewService(f.campaigns, f.segments, f.customers, f.vendor,
		sending.NewPersonalizer(), distlock.NewLocalFactory(), opts...)
}

func TestCreateSyncOverlappingSegments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.vendor.fail["C"] = true

	c, err := f.service().Create(ctx, campaign.CreateInput{
		Name: "  Spring  ", Message: "Hi {{ first_name }} {{ last_name }}", Segments: []string{"s1", "s2"}, CreatedBy: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Spring", c.Name)
	assert.Equal(t, domain.DeliverySync, c.Mode)
	assert.Equal(t, 4, c.AudienceSize)
	assert.Equal(t, 3, c.TotalSent)
	assert.Equal(t, 1, c.TotalFailed)
	assert.Equal(t, 0, c.PendingCount)
	assert.True(t, c.Consistent())
	assert.Equal(t, 4, f.vendor.calls)

	logs, err := f.campaigns.ListLogs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	ids := make([]string, len(logs))
	for i, l := range logs {
		ids[i] = l.CustomerID
		assert.Equal(t, c.ID, l.CampaignID)
		assert.True(t, l.Status.IsTerminal())
		assert.NotNil(t, l.ResolvedAt)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)
	assert.Equal(t, "Hi Cust A", logs[0].Message)
	assert.Equal(t, "Cust A", logs[0].CustomerName)
	assert.Equal(t, domain.DeliveryFailed, logs[2].Status)

	stored, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, stored.SegmentIDs)
}

func TestCreateSkipsDeletedCustomers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.customers.Delete(ctx, "D")
	require.NoError(t, err)

	c, err := f.service().Create(ctx, campaign.CreateInput{Name: "x", Message: "m", Segments: []string{"s2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, c.AudienceSize)
	assert.True(t, c.Consistent())
}

func TestCreateValidation(t *testing.T) {
	svc := newFixture(t).service()
	ctx := context.Background()

	for _, in := range []campaign.CreateInput{
		{Name: " ", Message: "m", Segments: []string{"s1"}},
		{Name: "n", Message: "", Segments: []string{"s1"}},
		{Name: "n", Message: "m"},
	} {
		_, err := svc.Create(ctx, in)
		assert.ErrorIs(t, err, campaign.ErrInvalidCampaignDefinition)
	}

	_, err := svc.Create(ctx, campaign.CreateInput{Name: "n", Message: "m", Segments: []string{"nope"}})
	assert.ErrorIs(t, err, campaign.ErrNoSuchSegments)
}

func TestCreatePersistFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.campaigns.FailCreate = errors.New("tx aborted")

	_, err := f.service().Create(ctx, campaign.CreateInput{Name: "n", Message: "m", Segments: []string{"s1"}})
	assert.ErrorIs(t, err, campaign.ErrCampaignCreationFailed)

	list, err := f.campaigns.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateRejectsConcurrentDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	locks := distlock.NewLocalFactory()
	svc := campaign.NewService(f.campaigns, f.segments, f.customers, f.vendor, nil, locks)

	held := locks("campaign-create:u1:Spring", time.Minute)
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Create(ctx, campaign.CreateInput{Name: "Spring", Message: "m", Segments: []string{"s1"}, CreatedBy: "u1"})
	assert.ErrorIs(t, err, campaign.ErrCreateInProgress)

	_, err = svc.Create(ctx, campaign.CreateInput{Name: "Spring", Message: "m", Segments: []string{"s1"}, CreatedBy: "u2"})
	assert.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	_, err = svc.Create(ctx, campaign.CreateInput{Name: "Spring", Message: "m", Segments: []string{"s1"}, CreatedBy: "u1"})
	assert.NoError(t, err)
}

func TestCreateAsyncWritesPendingAndEnqueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := &fakeQueue{}
	svc := f.service(campaign.WithMode(domain.DeliveryAsync), campaign.WithQueue(q))

	c, err := svc.Create(ctx, campaign.CreateInput{Name: "n", Message: "Hi {{ first_name }}", Segments: []string{"s1", "s2"}})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryAsync, c.Mode)
	assert.Equal(t, 4, c.PendingCount)
	assert.Equal(t, 0, f.vendor.calls)
	require.Len(t, q.jobs, 4)
	assert.Equal(t, "Hi Cust", q.jobs[0].Message)
	assert.Equal(t, "A@example.com", q.jobs[0].Email)

	// Drain the queue through the atomic resolve path, twice for idempotency.
	for range 2 {
		for _, job := range q.jobs {
			_, err := f.campaigns.Resolve(ctx, job.LogID, domain.DeliverySent)
			require.NoError(t, err)
		}
	}
	stored, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.PendingCount)
	assert.Equal(t, 4, stored.TotalSent)
	assert.True(t, stored.Consistent())
}

func TestCreateAsyncEnqueueFailureFailsRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := &fakeQueue{accept: 1, err: errors.New("redis down")}
	svc := f.service(campaign.WithMode(domain.DeliveryAsync), campaign.WithQueue(q))

	c, err := svc.Create(ctx, campaign.CreateInput{Name: "n", Message: "m", Segments: []string{"s1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, c.PendingCount)
	assert.Equal(t, 2, c.TotalFailed)

	stored, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PendingCount)
	assert.Equal(t, 2, stored.TotalFailed)
	assert.True(t, stored.Consistent())
}

func TestCreateAsyncWithoutQueue(t *testing.T) {
	svc := newFixture(t).service(campaign.WithMode(domain.DeliveryAsync))
	_, err := svc.Create(context.Background(), campaign.CreateInput{Name: "n", Message: "m", Segments: []string{"s1"}})
	assert.ErrorIs(t, err, campaign.ErrAsyncUnavailable)
}

func TestListNewestFirstAndLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()

	empty, err := svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	first, err := svc.Create(ctx, campaign.CreateInput{Name: "first", Message: "m", Segments: []string{"s1"}})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := svc.Create(ctx, campaign.CreateInput{Name: "second", Message: "m", Segments: []string{"s2"}})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	logs, err := svc.Logs(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	_, err = svc.Logs(ctx, "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}
