package segmentation

import (
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryEquality(t *testing.T) {
	query, args, err := NewQueryBuilder().BuildQuery(mustParse(t, `{"totalSpent":{"$eq":100}}`))
	require.NoError(t, err)

	assert.Contains(t, query, "FROM customers c")
	assert.Contains(t, query, "WHERE c.total_spent = $1::float8")
	assert.Contains(t, query, "ORDER BY c.created_at ASC")
	assert.NotContains(t, query, "LIMIT")
	assert.Equal(t, []interface{}{100.0}, args)
}

func TestBuildQueryOrdersRange(t *testing.T) {
	query, args, err := NewQueryBuilder().BuildQuery(mustParse(t, `{"orders":{"$exists":true,"$gte":2,"$lte":5}}`))
	require.NoError(t, err)

	assert.Contains(t, query, "(TRUE AND jsonb_array_length(c.orders) >= $1::float8 AND jsonb_array_length(c.orders) <= $2::float8)")
	assert.Equal(t, []interface{}{2.0, 5.0}, args)
}

func TestBuildQueryTopN(t *testing.T) {
	query, args, err := NewQueryBuilder().
		SetSort(SortTotalSpentDesc).
		SetLimit(5).
		BuildQuery(MatchAll())
	require.NoError(t, err)

	assert.Contains(t, query, "WHERE TRUE")
	assert.Contains(t, query, "ORDER BY c.total_spent DESC")
	assert.True(t, strings.HasSuffix(query, "LIMIT $1"))
	assert.Equal(t, []interface{}{5}, args)
}

func TestBuildQueryOptionalColumnsAreGuarded(t *testing.T) {
	qb := NewQueryBuilder()

	where, err := qb.build(mustParse(t, `{"preferredCategory":{"$ne":"Books"}}`))
	require.NoError(t, err)
	assert.Equal(t, "(NOT (c.preferred_category <> '') OR c.preferred_category <> $1)", where)

	where, err = qb.build(mustParse(t, `{"lastOrder":{"$lt":"2023-01-01"}}`))
	require.NoError(t, err)
	assert.Equal(t, "(c.last_order IS NOT NULL AND c.last_order < $2::timestamptz)", where)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), qb.args[1])
}

func TestBuildQueryStringComparisonUsesByteCollation(t *testing.T) {
	where, err := NewQueryBuilder().build(mustParse(t, `{"lastName":{"$gte":"M"}}`))
	require.NoError(t, err)
	assert.Contains(t, where, `c.last_name COLLATE "C" >= $1`)
}

func TestBuildQueryLists(t *testing.T) {
	qb := NewQueryBuilder()
	where, err := qb.build(mustParse(t, `{"preferredDay":{"$in":["Saturday","Sunday"]}}`))
	require.NoError(t, err)
	assert.Equal(t, "(c.preferred_day <> '' AND c.preferred_day = ANY($1::text[]))", where)
	assert.Equal(t, pq.StringArray{"Saturday", "Sunday"}, qb.args[0])

	where, err = qb.build(mustParse(t, `{"orders":{"$nin":[0,1]}}`))
	require.NoError(t, err)
	assert.Equal(t, "NOT (jsonb_array_length(c.orders) = ANY($2::float8[]))", where)
	assert.Equal(t, pq.Float64Array{0, 1}, qb.args[1])
}

func TestBuildQueryRegexAndLogical(t *testing.T) {
	qb := NewQueryBuilder()
	where, err := qb.build(mustParse(t, `{"$nor":[{"email":{"$regex":"@gmail\\.com$","$options":"i"}},{"orders":{"$size":0}}]}`))
	require.NoError(t, err)

	assert.Equal(t, "NOT ((c.email <> '' AND c.email ~ $1) OR jsonb_array_length(c.orders) = $2)", where)
	assert.Equal(t, `(?pi)@gmail\.com$`, qb.args[0])
	assert.Equal(t, int64(0), qb.args[1])
}

func TestBuildQueryExistsAndNull(t *testing.T) {
	qb := NewQueryBuilder()

	where, err := qb.build(mustParse(t, `{"phone":{"$exists":false}}`))
	require.NoError(t, err)
	assert.Equal(t, "NOT (c.phone <> '')", where)

	where, err = qb.build(mustParse(t, `{"lastOrder":null}`))
	require.NoError(t, err)
	assert.Equal(t, "NOT (c.last_order IS NOT NULL)", where)

	where, err = qb.build(mustParse(t, `{"totalSpent":{"$exists":false}}`))
	require.NoError(t, err)
	assert.Equal(t, "NOT (TRUE)", where)
	assert.Empty(t, qb.args)
}

func TestBuildCountQuery(t *testing.T) {
	query, args, err := NewQueryBuilder().BuildCountQuery(mustParse(t, `{"preferredChannel":"SMS"}`))
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM customers c WHERE (c.preferred_channel <> '' AND c.preferred_channel = $1)", query)
	assert.Equal(t, []interface{}{"SMS"}, args)
}

func TestPostgresPatternFlags(t *testing.T) {
	assert.Equal(t, "(?p)a", postgresPattern("a", ""))
	assert.Equal(t, "(?ni)a", postgresPattern("a", "mi"))
	assert.Equal(t, "(?s)a", postgresPattern("a", "s"))
	assert.Equal(t, "(?w)a", postgresPattern("a", "sm"))
}

func TestBuildQueryRegexCarriesOneFlagGroup(t *testing.T) {
	_, args, err := NewQueryBuilder().BuildQuery(mustParse(t, `{"email":{"$regex":"(?ms)^gmail"}}`))
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.Equal(t, "(?w)^gmail", args[0])
	assert.Equal(t, 1, strings.Count(args[0].(string), "(?"))
}

func TestBuildQuerySizeArgument(t *testing.T) {
	_, args, err := NewQueryBuilder().BuildQuery(mustParse(t, `{"orders":{"$size":2147483647}}`))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2147483647)}, args)
}

func TestHashRuleStable(t *testing.T) {
	a := HashRule([]byte(`{"orders":{"$gte":2}}`))
	assert.Len(t, a, 16)
	assert.Equal(t, a, HashRule([]byte(`{"orders":{"$gte":2}}`)))
	assert.NotEqual(t, a, HashRule([]byte(`{"orders":{"$gte":3}}`)))
}
