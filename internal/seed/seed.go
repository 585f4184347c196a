// Package seed fills a store with fake customers for demos and load tests.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/service/customer"
)

var (
	categories = []string{"Electronics", "Books", "Home", "Beauty", "Sports", "Toys", "Grocery", "Fashion"}
	weekdays   = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	channels   = []string{"Email", "SMS", "WhatsApp", "Push"}
	catalogue  = map[string][]string{
		"Electronics": {"headphones", "charger", "smart watch", "speaker"},
		"Books":       {"novel", "cookbook", "biography", "comic"},
		"Home":        {"lamp", "rug", "mug set", "pillow"},
		"Beauty":      {"serum", "lipstick", "perfume", "face mask"},
		"Sports":      {"yoga mat", "running shoes", "water bottle", "dumbbells"},
		"Toys":        {"puzzle", "lego set", "board game", "plush"},
		"Grocery":     {"coffee", "tea", "olive oil", "chocolate"},
		"Fashion":     {"jacket", "sneakers", "scarf", "sunglasses"},
	}
)

// Config controls generation.
type Config struct {
	Count     int
	MaxOrders int
	// Seed makes output reproducible; 0 picks a random seed.
	Seed int64
	// Since bounds order dates; the zero value means one year before now.
	Since time.Time
}

// Generator produces customer.AddInput values.
type Generator struct {
	faker *gofakeit.Faker
	cfg   Config
	now   func() time.Time
}

// NewGenerator creates a generator.
func NewGenerator(cfg Config) *Generator {
	if cfg.MaxOrders <= 0 {
		cfg.MaxOrders = 8
	}
	return &Generator{faker: gofakeit.New(cfg.Seed), cfg: cfg, now: time.Now}
}

// Customer returns one fake customer. Phone numbers and emails are suffixed
// with n so a single run does not collide with itself.
func (g *Generator) Customer(n int) customer.AddInput {
	f := g.faker
	first, last := f.FirstName(), f.LastName()
	category := f.RandomString(categories)

	in := customer.AddInput{
		FirstName:         first,
		LastName:          last,
		Email:             fmt.Sprintf("%s.%s.%d@%s", localPart(first), localPart(last), n, f.DomainName()),
		Phone:             fmt.Sprintf("%s-%d", f.Phone(), n),
		PreferredCategory: category,
		PreferredDay:      f.RandomString(weekdays),
		PreferredChannel:  f.RandomString(channels),
	}

	now := g.now().UTC()
	since := g.cfg.Since
	if since.IsZero() {
		since = now.AddDate(-1, 0, 0)
	}
	orders := f.Number(0, g.cfg.MaxOrders)
	for i := 0; i < orders; i++ {
		items := catalogue[category]
		if f.Bool() {
			items = catalogue[f.RandomString(categories)]
		}
		in.Orders = append(in.Orders, customer.OrderInput{
			Amount:  float64(int(f.Float64Range(5, 500)*100)) / 100,
			Items:   []string{f.RandomString(items)},
			Date:    f.DateRange(since, now),
			Channel: f.RandomString([]string{"web", "store", "app"}),
		})
	}
	return in
}

// Result counts what Run did.
type Result struct {
	Created    int
	Duplicates int
}

// Run adds cfg.Count customers through svc. Duplicates are counted and
// skipped; any other error stops the run.
func Run(ctx context.Context, svc *customer.Service, g *Generator) (Result, error) {
	var res Result
	for i := 0; i < g.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := svc.Add(ctx, g.Customer(i))
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, customer.ErrDuplicate):
			res.Duplicates++
		default:
			return res, fmt.Errorf("customer %d: %w", i, err)
		}
		if (i+1)%500 == 0 {
			logger.Info("seed: progress", "created", res.Created, "of", g.cfg.Count)
		}
	}
	return res, nil
}

func localPart(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
