package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-crm/internal/auth"
	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/segmentation"
	"github.com/ignite/audience-crm/internal/service/campaign"
	"github.com/ignite/audience-crm/internal/service/customer"
	"github.com/ignite/audience-crm/internal/service/segment"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var customerCols = []string{"id", "first_name", "last_name", "email", "phone", "total_spent",
	"last_order", "orders", "preferred_category", "preferred_day", "preferred_channel",
	"created_by", "created_at"}

func TestCustomerCreateDuplicate(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCustomerRepo(db)

	mock.ExpectExec("INSERT INTO customers").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	err := repo.Create(context.Background(), &domain.Customer{ID: "c1", Email: "a@b.co"})
	assert.ErrorIs(t, err, customer.ErrDuplicate)
}

func TestCustomerCreateEncodesOrders(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCustomerRepo(db)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO customers").
		WithArgs("c1", "Ana", "", "a@b.co", "", 0.0, sqlmock.AnyArg(), "[]", "", "", "", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.Customer{ID: "c1", FirstName: "Ana", Email: "a@b.co", CreatedAt: now})
	assert.NoError(t, err)
}

func TestCustomerGetScansOrders(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCustomerRepo(db)
	last := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM customers c WHERE c.id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(customerCols).AddRow(
			"c1", "Ana", "Lima", "a@b.co", "555", 42.5, last,
			[]byte(`[{"amount":42.5,"items":["tea"],"date":"2024-03-01T00:00:00Z"}]`),
			"tea", "", "", "u1", last))

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 42.5, c.TotalSpent)
	require.Len(t, c.Orders, 1)
	assert.Equal(t, []string{"tea"}, c.Orders[0].Items)
	assert.Equal(t, last, *c.LastOrder)
}

func TestCustomerGetNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM customers").WillReturnError(sql.ErrNoRows)
	_, err := NewCustomerRepo(db).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, customer.ErrNotFound)
}

func TestCustomerGetManyKeepsOrder(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now()

	mock.ExpectQuery("unnest\\(\\$1::text\\[\\]\\) WITH ORDINALITY").
		WithArgs(pq.StringArray{"b", "a", "gone"}).
		WillReturnRows(sqlmock.NewRows(customerCols).
			AddRow("b", "", "", "b@x.co", "", 0.0, nil, []byte(`[]`), "", "", "", "", now).
			AddRow("a", "", "", "a@x.co", "", 0.0, nil, []byte(`[]`), "", "", "", "", now))

	out, err := NewCustomerRepo(db).GetMany(context.Background(), []string{"b", "a", "gone"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Nil(t, out[0].LastOrder)
}

func TestCustomerFindUsesQueryBuilder(t *testing.T) {
	db, mock := setupTestDB(t)
	f, _, err := segmentation.ParseJSON([]byte(`{"totalSpent":{"$gt":100}}`))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.total_spent > $1::float8")).
		WithArgs(100.0, 5).
		WillReturnRows(sqlmock.NewRows(customerCols))

	out, err := NewCustomerRepo(db).Find(context.Background(), f,
		customer.FindOptions{Sort: segmentation.SortTotalSpentDesc, Limit: 5})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestCustomerAddOrderAtomicUpdate(t *testing.T) {
	db, mock := setupTestDB(t)
	when := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("orders      = c.orders || jsonb_build_array($2::jsonb)")).
		WithArgs("c1", sqlmock.AnyArg(), 10.0, when).
		WillReturnRows(sqlmock.NewRows(customerCols).AddRow(
			"c1", "", "", "a@b.co", "", 10.0, when, []byte(`[{"amount":10,"items":[],"date":"2024-04-01T00:00:00Z"}]`),
			"", "", "", "", when))

	c, err := NewCustomerRepo(db).AddOrder(context.Background(), "c1", domain.Order{Amount: 10, Items: []string{}, Date: when})
	require.NoError(t, err)
	assert.Equal(t, 10.0, c.TotalSpent)
}

func TestCustomerDelete(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("DELETE FROM customers").WithArgs("c1").WillReturnError(sql.ErrNoRows)
	_, err := NewCustomerRepo(db).Delete(context.Background(), "c1")
	assert.ErrorIs(t, err, customer.ErrNotFound)
}

var segmentCols = []string{"id", "name", "description", "rule", "customer_ids", "created_by", "created_at"}

func TestSegmentCreateAndGet(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSegmentRepo(db)
	now := time.Now()
	s := &domain.Segment{ID: "s1", Name: "n", Rule: json.RawMessage(`{}`), Customers: []string{"a", "b"}, CreatedAt: now}

	mock.ExpectExec("INSERT INTO segments").
		WithArgs("s1", "n", "", "{}", pq.StringArray{"a", "b"}, "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), s))

	mock.ExpectQuery("FROM segments WHERE id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(segmentCols).AddRow("s1", "n", "", []byte(`{}`), "{a,b}", "", now))
	got, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Customers)
	assert.JSONEq(t, `{}`, string(got.Rule))
}

func TestSegmentDeleteNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec("DELETE FROM segments").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, NewSegmentRepo(db).Delete(context.Background(), "s1"), segment.ErrNotFound)
}

func TestSegmentSummaries(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("cardinality\\(customer_ids\\)").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "count"}).AddRow("s1", "n", 3))

	out, err := NewSegmentRepo(db).Summaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.SegmentSummary{{ID: "s1", Name: "n", CustomerCount: 3}}, out)
}

func TestCampaignCreateWithLogsSingleTx(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now()
	c := &domain.Campaign{ID: "k1", Name: "n", Message: "m", Mode: domain.DeliveryAsync,
		SegmentIDs: []string{"s1"}, AudienceSize: 2, PendingCount: 2, CreatedAt: now}
	logs := []domain.DeliveryLog{
		{ID: "l1", CampaignID: "k1", CustomerID: "a", Status: domain.DeliveryPending, CreatedAt: now},
		{ID: "l2", CampaignID: "k1", CustomerID: "b", Status: domain.DeliveryPending, CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO campaigns").WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`COPY "delivery_logs"`)
	prep.ExpectExec().WithArgs("l1", "k1", 0, "", "a", "", "", "PENDING", "", now, nil).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("l2", "k1", 1, "", "b", "", "", "PENDING", "", now, nil).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, NewCampaignRepo(db).CreateWithLogs(context.Background(), c, logs))
}

func TestCampaignCreateWithLogsRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO campaigns").WillReturnError(errors.New("check violation"))
	mock.ExpectRollback()

	err := NewCampaignRepo(db).CreateWithLogs(context.Background(), &domain.Campaign{ID: "k1"}, nil)
	assert.Error(t, err)
}

func TestCampaignResolve(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = 'PENDING'")).
		WithArgs("l1", "SENT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("k1"))
	ok, err := repo.Resolve(context.Background(), "l1", domain.DeliverySent)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("WITH resolved AS").
		WithArgs("l1", "FAILED").
		WillReturnError(sql.ErrNoRows)
	ok, err = repo.Resolve(context.Background(), "l1", domain.DeliveryFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Resolve(context.Background(), "l1", domain.DeliveryPending)
	assert.Error(t, err)
}

func TestCampaignListWithCreatorName(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now()
	mock.ExpectQuery("LEFT JOIN users u").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "message", "mode", "created_by",
			"username", "segment_ids", "audience_size", "pending_count", "total_sent", "total_failed", "created_at"}).
			AddRow("k1", "n", "", "m", "sync", "u1", "ana", "{s1,s2}", 4, 0, 3, 1, now))

	out, err := NewCampaignRepo(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ana", out[0].CreatedByName)
	assert.Equal(t, []string{"s1", "s2"}, out[0].SegmentIDs)
	assert.True(t, out[0].Consistent())
}

func TestCampaignGetNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM campaigns c").WithArgs("k1").WillReturnError(sql.ErrNoRows)
	_, err := NewCampaignRepo(db).Get(context.Background(), "k1")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestUserRepo(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewUserRepo(db)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})
	assert.ErrorIs(t, repo.Create(context.Background(), &domain.User{ID: "u1"}), auth.ErrUserExists)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE LOWER(email) = LOWER($1)")).
		WithArgs("Ana@x.co").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "google_id",
			"provider", "email_verified", "created_at"}).
			AddRow("u1", "ana", "ana@x.co", "hash", "", "local", false, time.Now()))
	u, err := repo.GetByEmail(context.Background(), "Ana@x.co")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderLocal, u.Provider)

	mock.ExpectQuery("WHERE id = \\$1").WithArgs("u2").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByID(context.Background(), "u2")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
