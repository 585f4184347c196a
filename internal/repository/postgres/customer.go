package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/segmentation"
	"github.com/ignite/audience-crm/internal/service/customer"
)

// CustomerRepo implements customer.Repository against PostgreSQL.
type CustomerRepo struct{ db *sql.DB }

// NewCustomerRepo creates a Postgres-backed customer repository.
func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{db: db} }

func (r *CustomerRepo) Create(ctx context.Context, c *domain.Customer) error {
	orders, err := json.Marshal(ordersOrEmpty(c.Orders))
	if err != nil {
		return fmt.Errorf("encode orders: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO customers (id, first_name, last_name, email, phone, total_spent, last_order,
		                       orders, preferred_category, preferred_day, preferred_channel,
		                       created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.TotalSpent, c.LastOrder,
		string(orders), c.PreferredCategory, c.PreferredDay, c.PreferredChannel, c.CreatedBy, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return customer.ErrDuplicate
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (r *CustomerRepo) Get(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+segmentation.CustomerColumns+` FROM customers c WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepo) GetMany(ctx context.Context, ids []string) ([]domain.Customer, error) {
	if len(ids) == 0 {
		return []domain.Customer{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+segmentation.CustomerColumns+`
		FROM customers c
		JOIN unnest($1::text[]) WITH ORDINALITY AS wanted(id, pos) ON wanted.id = c.id
		ORDER BY wanted.pos
	`, pq.StringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("get customers: %w", err)
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (r *CustomerRepo) List(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+segmentation.CustomerColumns+` FROM customers c ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (r *CustomerRepo) Delete(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx, `
		DELETE FROM customers c WHERE c.id = $1
		RETURNING `+segmentation.CustomerColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete customer: %w", err)
	}
	return c, nil
}

// AddOrder appends to the orders array and rederives the aggregates in the
// same statement, so concurrent orders never lose an update.
func (r *CustomerRepo) AddOrder(ctx context.Context, id string, o domain.Order) (*domain.Customer, error) {
	order, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	c, err := scanCustomer(r.db.QueryRowContext(ctx, `
		UPDATE customers c SET
			orders      = c.orders || jsonb_build_array($2::jsonb),
			total_spent = c.total_spent + $3,
			last_order  = GREATEST(c.last_order, $4::timestamptz)
		WHERE c.id = $1
		RETURNING `+segmentation.CustomerColumns, id, string(order), o.Amount, o.Date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add order: %w", err)
	}
	return c, nil
}

func (r *CustomerRepo) Find(ctx context.Context, f segmentation.Filter, opts customer.FindOptions) ([]domain.Customer, error) {
	query, args, err := segmentation.NewQueryBuilder().
		SetSort(opts.Sort).
		SetLimit(opts.Limit).
		BuildQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build customer query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find customers: %w", err)
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func collectCustomers(rows *sql.Rows) ([]domain.Customer, error) {
	out := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var (
		c         domain.Customer
		lastOrder sql.NullTime
		orders    []byte
	)
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.TotalSpent,
		&lastOrder, &orders, &c.PreferredCategory, &c.PreferredDay, &c.PreferredChannel,
		&c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastOrder.Valid {
		t := lastOrder.Time.UTC()
		c.LastOrder = &t
	}
	c.Orders = []domain.Order{}
	if len(orders) > 0 {
		if err := json.Unmarshal(orders, &c.Orders); err != nil {
			return nil, fmt.Errorf("decode orders: %w", err)
		}
	}
	return &c, nil
}

func ordersOrEmpty(o []domain.Order) []domain.Order {
	if o == nil {
		return []domain.Order{}
	}
	return o
}
