// Package auth registers users, checks their passwords and issues the
// bearer tokens the API is protected with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrAlreadyExists      = errors.New("auth: already registered")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidInput       = errors.New("auth: invalid input")
)

// FieldError reports a rejected registration field. It matches ErrInvalidInput.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("auth: invalid %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool { return target == ErrInvalidInput }

const (
	minUsernameLen = 2
	maxUsernameLen = 30
	maxEmailLen    = 50
	minPasswordLen = 6
)

// Config holds the token and account settings.
type Config struct {
	Secret          string
	TokenTTL        time.Duration
	StartingBalance decimal.Decimal
	BcryptCost      int // 0 means bcrypt.DefaultCost
}

// Service handles registration and login.
type Service struct {
	store store.Store
	cfg   Config
	log   *slog.Logger
}

// NewService creates an auth service.
func NewService(st store.Store, cfg Config, log *slog.Logger) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, cfg: cfg, log: log}
}

// RegisterInput is a registration form.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Confirm  string `json:"confirm_password"`
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
}

func (in *RegisterInput) validate() error {
	if n := utf8.RuneCountInString(in.Username); n < minUsernameLen || n > maxUsernameLen {
		return &FieldError{Field: "username", Reason: fmt.Sprintf("must be %d to %d characters", minUsernameLen, maxUsernameLen)}
	}
	if in.Email == "" || len(in.Email) > maxEmailLen {
		return &FieldError{Field: "email", Reason: fmt.Sprintf("must be 1 to %d characters", maxEmailLen)}
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return &FieldError{Field: "email", Reason: "is not a valid address"}
	}
	if in.Phone == "" {
		return &FieldError{Field: "phone", Reason: "is required"}
	}
	if len(in.Password) < minPasswordLen {
		return &FieldError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLen)}
	}
	if in.Password != in.Confirm {
		return &FieldError{Field: "confirm_password", Reason: "does not match password"}
	}
	return nil
}

// Register creates a user credited with the starting balance.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	for _, check := range []struct {
		field  string
		lookup func(context.Context, string) (*model.User, error)
		value  string
	}{
		{"username", s.store.GetUserByUsername, in.Username},
		{"email", s.store.GetUserByEmail, in.Email},
		{"phone", s.store.GetUserByPhone, in.Phone},
	} {
		_, err := check.lookup(ctx, check.value)
		if err == nil {
			return nil, fmt.Errorf("%w: %s is taken", ErrAlreadyExists, check.field)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("auth: lookup %s: %w", check.field, err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: string(hash),
		Balance:      s.cfg.StartingBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		// Lost a race with a concurrent registration.
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}

	metrics.UsersRegistered.Inc()
	s.log.Info("user registered", "user", u.ID, "username", u.Username)
	return u, nil
}

// Authenticate checks the password and returns a signed access token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, *model.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(u)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Claims are the access token claims: sub is the user id.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for u.
func (s *Service) IssueToken(u *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a token and returns its claims.
func (s *Service) ParseToken(raw string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
