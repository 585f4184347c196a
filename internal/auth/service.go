package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-crm/internal/domain"
	"github.com/ignite/audience-crm/internal/metrics"
	"github.com/ignite/audience-crm/internal/pkg/logger"
)

// SignupInput holds the fields for creating a local account.
type SignupInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is what a successful login returns to the client.
type Session struct {
	User  *domain.User
	Token string
}

// Service implements sign-up, login and token authentication.
type Service struct {
	repo       Repository
	tokens     *Tokens
	revoker    Revoker
	google     GoogleExchanger
	bcryptCost int
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGoogle enables Google sign-in through g.
func WithGoogle(g GoogleExchanger) Option {
	return func(s *Service) { s.google = g }
}

// WithRevoker sets where logged-out tokens are recorded.
func WithRevoker(r Revoker) Option {
	return func(s *Service) { s.revoker = r }
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithMetrics records logins and sign-ups on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an auth service. Without WithRevoker an in-process
// blacklist is used.
func NewService(repo Repository, tokens *Tokens, opts ...Option) *Service {
	s := &Service{repo: repo, tokens: tokens, bcryptCost: 10, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.revoker == nil {
		s.revoker = NewMemoryBlacklist()
	}
	return s
}

// Signup creates a local account.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || in.Password == "" {
		return nil, ErrMissingFields
	}
	if len(email) < 5 || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Provider:     domain.ProviderLocal,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.metrics.RecordSignup()
	logger.Info("auth: user signed up", "user_id", u.ID, "email", email)
	return u, nil
}

// Login checks a local account's password and issues a token.
// Unknown email, Google-only account and wrong password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.metrics.RecordLogin(string(domain.ProviderLocal), false)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		s.metrics.RecordLogin(string(domain.ProviderLocal), false)
		return nil, ErrInvalidCredentials
	}
	return s.session(u, domain.ProviderLocal)
}

// GoogleLogin exchanges an OAuth code and signs the user in, creating the
// account on first use.
func (s *Service) GoogleLogin(ctx context.Context, code string) (*Session, error) {
	if s.google == nil {
		return nil, ErrGoogleDisabled
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingFields
	}

	info, err := s.google.Exchange(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(string(domain.ProviderGoogle), false)
		logger.Warn("auth: google exchange failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGoogleExchange, err)
	}
	email := strings.ToLower(strings.TrimSpace(info.Email))

	u, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserNotFound):
		u = &domain.User{
			ID:            uuid.New().String(),
			Username:      info.Name,
			Email:         email,
			GoogleID:      info.ID,
			Provider:      domain.ProviderGoogle,
			EmailVerified: info.VerifiedEmail,
			CreatedAt:     s.now().UTC(),
		}
		if u.Username == "" {
			u.Username = email
		}
		if err := s.repo.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		s.metrics.RecordSignup()
		logger.Info("auth: user created from google", "user_id", u.ID, "email", email)
	default:
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return s.session(u, domain.ProviderGoogle)
}

func (s *Service) session(u *domain.User, provider domain.AuthProvider) (*Session, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	s.metrics.RecordLogin(string(provider), true)
	logger.Info("auth: user logged in", "user_id", u.ID, "provider", string(provider))
	return &Session{User: u, Token: token}, nil
}

// Authenticate verifies token and returns its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	u, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// Logout revokes token for the rest of its lifetime. An invalid token is
// already unusable, so it is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, token, s.tokens.remaining(claims)); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	logger.Info("auth: user logged out", "user_id", claims.UserID)
	return nil
}
