package customer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-crm/internal/repository/memory"
	"github.com/ignite/audience-crm/internal/service/customer"
)

func validInput() customer.AddInput {
	return customer.AddInput{
		FirstName: " Ana ",
		LastName:  "Lima",
		Email:     " Ana@Example.COM ",
		Phone:     "555-0100",
		Orders: []customer.OrderInput{
			{Amount: 30, Items: []string{"tea"}, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			{Amount: 12.5, Date: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestAddDerivesAggregates(t *testing.T) {
	svc := customer.NewService(memory.NewCustomerRepo())
	c, err := svc.Add(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Ana", c.FirstName)
	assert.Equal(t, "ana@example.com", c.Email)
	assert.Equal(t, 42.5, c.TotalSpent)
	require.NotNil(t, c.LastOrder)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), *c.LastOrder)
	assert.Equal(t, []string{}, c.Orders[1].Items)
}

func TestAddWithoutOrders(t *testing.T) {
	in := validInput()
	in.Orders = nil
	c, err := customer.NewService(memory.NewCustomerRepo()).Add(context.Background(), in)
	require.NoError(t, err)
	assert.Zero(t, c.TotalSpent)
	assert.Nil(t, c.LastOrder)
	assert.NotNil(t, c.Orders)
}

func TestAddValidation(t *testing.T) {
	svc := customer.NewService(memory.NewCustomerRepo())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*customer.AddInput)
		want   string
	}{
		{"missing first name", func(in *customer.AddInput) { in.FirstName = "  " }, "firstName is required"},
		{"bad email", func(in *customer.AddInput) { in.Email = "ana@example" }, "email format is invalid"},
		{"missing phone", func(in *customer.AddInput) { in.Phone = "" }, "phone is required"},
		{"negative order", func(in *customer.AddInput) { in.Orders[0].Amount = -1 }, "amount must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Add(ctx, in)
			assert.ErrorIs(t, err, customer.ErrInvalidCustomer)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAddDuplicate(t *testing.T) {
	svc := customer.NewService(memory.NewCustomerRepo())
	ctx := context.Background()
	_, err := svc.Add(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Phone = "555-0199"
	_, err = svc.Add(ctx, in)
	assert.ErrorIs(t, err, customer.ErrDuplicate)
}

func TestAddOrderRecomputes(t *testing.T) {
	svc := customer.NewService(memory.NewCustomerRepo())
	ctx := context.Background()
	c, err := svc.Add(ctx, validInput())
	require.NoError(t, err)

	when := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	updated, err := svc.AddOrder(ctx, c.ID, customer.OrderInput{Amount: 7.5, Date: when})
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.TotalSpent)
	assert.Equal(t, when, *updated.LastOrder)
	assert.Len(t, updated.Orders, 3)

	_, err = svc.AddOrder(ctx, c.ID, customer.OrderInput{Amount: -3})
	assert.ErrorIs(t, err, customer.ErrInvalidOrder)

	_, err = svc.AddOrder(ctx, "missing", customer.OrderInput{Amount: 3})
	assert.ErrorIs(t, err, customer.ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	svc := customer.NewService(memory.NewCustomerRepo())
	ctx := context.Background()

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	c, err := svc.Add(ctx, validInput())
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, deleted.ID)

	_, err = svc.Delete(ctx, c.ID)
	assert.ErrorIs(t, err, customer.ErrNotFound)
}
