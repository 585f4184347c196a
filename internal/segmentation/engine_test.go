package segmentation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-crm/internal/domain"
)

func customerWithOrders(id string, n int) domain.Customer {
	c := domain.Customer{
		ID:        id,
		FirstName: "Cust",
		LastName:  id,
		Email:     id + "@example.com",
		Phone:     "+1555000" + id,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < n; i++ {
		c.Orders = append(c.Orders, domain.Order{
			Amount: 10,
			Date:   time.Date(2024, 2, 1+i, 0, 0, 0, 0, time.UTC),
		})
	}
	c.Recompute()
	return c
}

func mustParse(t *testing.T, doc string) Filter {
	t.Helper()
	f, _, err := ParseJSON([]byte(doc))
	require.NoError(t, err)
	return f
}

func ids(cs []domain.Customer) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestMatchOrdersBetweenTwoAndFive(t *testing.T) {
	var customers []domain.Customer
	for i, n := range []int{0, 2, 3, 5, 7} {
		customers = append(customers, customerWithOrders(fmt.Sprint(i), n))
	}

	f := mustParse(t, `{"orders":{"$exists":true,"$gte":2,"$lte":5}}`)
	got := FilterCustomers(f, customers)
	assert.Equal(t, []string{"1", "2", "3"}, ids(got))
}

func TestMatchTotalSpentEq(t *testing.T) {
	a := customerWithOrders("a", 10) // 100
	b := customerWithOrders("b", 3)  // 30

	f := mustParse(t, `{"totalSpent":{"$eq":100}}`)
	assert.True(t, Match(f, &a))
	assert.False(t, Match(f, &b))
}

func TestMatchMissingValues(t *testing.T) {
	c := customerWithOrders("x", 0)
	c.PreferredCategory = ""
	require.Nil(t, c.LastOrder)

	tests := []struct {
		doc  string
		want bool
	}{
		{`{"preferredCategory":{"$exists":false}}`, true},
		{`{"preferredCategory":{"$exists":true}}`, false},
		{`{"preferredCategory":null}`, true},
		{`{"preferredCategory":{"$ne":null}}`, false},
		{`{"preferredCategory":{"$eq":"Books"}}`, false},
		{`{"preferredCategory":{"$ne":"Books"}}`, true},
		{`{"preferredCategory":{"$nin":["Books"]}}`, true},
		{`{"preferredCategory":{"$in":["Books"]}}`, false},
		{`{"preferredCategory":{"$regex":".*"}}`, false},
		{`{"lastOrder":{"$lt":"2030-01-01"}}`, false},
		{`{"lastOrder":{"$gt":"2000-01-01"}}`, false},
		{`{"$not":{"lastOrder":{"$lt":"2030-01-01"}}}`, true},
		{`{"lastOrder":{"$exists":false}}`, true},
		{`{"orders":{"$size":0}}`, true},
		{`{"orders":{"$exists":true}}`, true},
		{`{"totalSpent":{"$exists":true}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(mustParse(t, tt.doc), &c))
		})
	}
}

func TestMatchLogicalAndRegex(t *testing.T) {
	gmail := customerWithOrders("g", 1)
	gmail.Email = "Someone@GMAIL.com"
	gmail.PreferredChannel = "SMS"

	other := customerWithOrders("o", 4)
	other.Email = "someone@corp.io"
	other.PreferredChannel = "Email"

	tests := []struct {
		doc         string
		gmail, corp bool
	}{
		{`{"email":{"$regex":"@gmail\\.com$","$options":"i"}}`, true, false},
		{`{"email":{"$regex":"@gmail\\.com$"}}`, false, false},
		{`{"email":{"$not":{"$regex":"@gmail\\.com$","$options":"i"}}}`, false, true},
		{`{"$or":[{"preferredChannel":"SMS"},{"orders":{"$gt":3}}]}`, true, true},
		{`{"$nor":[{"preferredChannel":"SMS"},{"orders":{"$gt":3}}]}`, false, false},
		{`{"$and":[{"preferredChannel":"Email"},{"orders":{"$gte":4}}]}`, false, true},
		{`{"preferredChannel":{"$in":["SMS","WhatsApp"]}}`, true, false},
		{`{"lastOrder":{"$gte":"2024-02-04"}}`, false, true},
		{`{}`, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			f := mustParse(t, tt.doc)
			assert.Equal(t, tt.gmail, Match(f, &gmail), "gmail")
			assert.Equal(t, tt.corp, Match(f, &other), "corp")
		})
	}
}

func TestFilterCustomersEmpty(t *testing.T) {
	got := FilterCustomers(MatchAll(), nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
