package customer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/pkg/logger"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// OrderInput is an order as submitted by a client.
type OrderInput struct {
	Amount  float64   `json:"amount" validate:"gte=0"`
	Items   []string  `json:"items"`
	Date    time.Time `json:"date"`
	Channel string    `json:"channel"`
}

// AddInput holds the fields for creating a customer.
type AddInput struct {
	FirstName         string       `json:"firstName" validate:"required"`
	LastName          string       `json:"lastName" validate:"required"`
	Email             string       `json:"email" validate:"required,crmemail"`
	Phone             string       `json:"phone" validate:"required"`
	Orders            []OrderInput `json:"orders" validate:"dive"`
	PreferredCategory string       `json:"preferredCategory"`
	PreferredDay      string       `json:"preferredDay"`
	PreferredChannel  string       `json:"preferredChannel"`
	CreatedBy         string       `json:"-"`
}

// Service implements customer business logic.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a customer service backed by the given repository.
func NewService(repo Repository) *Service {
	v := validator.New()
	_ = v.RegisterValidation("crmemail", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	return &Service{repo: repo, validate: v, now: time.Now}
}

// Repository exposes the underlying repository to sibling services.
func (s *Service) Repository() Repository { return s.repo }

// Add validates and stores a new customer, deriving TotalSpent and LastOrder
// from the submitted orders.
func (s *Service) Add(ctx context.Context, in AddInput) (*domain.Customer, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)

	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCustomer, describeValidation(err))
	}

	now := s.now().UTC()
	c := &domain.Customer{
		ID:                uuid.New().String(),
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Email:             in.Email,
		Phone:             in.Phone,
		PreferredCategory: strings.TrimSpace(in.PreferredCategory),
		PreferredDay:      strings.TrimSpace(in.PreferredDay),
		PreferredChannel:  strings.TrimSpace(in.PreferredChannel),
		CreatedBy:         in.CreatedBy,
		CreatedAt:         now,
		Orders:            make([]domain.Order, 0, len(in.Orders)),
	}
	for _, o := range in.Orders {
		c.Orders = append(c.Orders, toOrder(o, now))
	}
	c.Recompute()

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("create customer: %w", err)
	}

	logger.Info("customer: created", "customer_id", c.ID, "email", c.Email, "orders", len(c.Orders))
	return c, nil
}

// List returns every customer, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Customer, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	if out == nil {
		out = []domain.Customer{}
	}
	return out, nil
}

// Delete removes a customer. Frozen segments keep the id; campaigns skip it.
func (s *Service) Delete(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Info("customer: deleted", "customer_id", id)
	return c, nil
}

// AddOrder records a purchase and returns the updated customer.
func (s *Service) AddOrder(ctx context.Context, id string, in OrderInput) (*domain.Customer, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOrder, describeValidation(err))
	}
	return s.repo.AddOrder(ctx, id, toOrder(in, s.now().UTC()))
}

func toOrder(in OrderInput, now time.Time) domain.Order {
	date := in.Date
	if date.IsZero() {
		date = now
	}
	items := in.Items
	if items == nil {
		items = []string{}
	}
	return domain.Order{Amount: in.Amount, Items: items, Date: date.UTC(), Channel: in.Channel}
}

// describeValidation turns validator errors into a short client message.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", lowerFirst(fe.Field())))
		case "crmemail":
			msgs = append(msgs, "email format is invalid")
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must not be negative", lowerFirst(fe.Field())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", lowerFirst(fe.Field())))
		}
	}
	return strings.Join(msgs, ", ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
