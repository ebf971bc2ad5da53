package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

const secret = "test-secret"

func newTestService(t *testing.T) (*auth.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := auth.NewService(ms, auth.Config{
		Secret:          secret,
		TokenTTL:        time.Hour,
		StartingBalance: model.DefaultStartingBalance,
		BcryptCost:      bcrypt.MinCost,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, ms
}

func validInput() auth.RegisterInput {
	return auth.RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Phone:    "555-0100",
		Password: "hunter22",
		Confirm:  "hunter22",
	}
}

func TestRegister(t *testing.T) {
	svc, ms := newTestService(t)

	u, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == "" {
		t.Error("expected generated id")
	}
	if !u.Balance.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("expected starting balance 1000000, got %s", u.Balance)
	}
	if u.PasswordHash == "" || u.PasswordHash == "hunter22" {
		t.Error("password must be stored hashed")
	}

	stored, err := ms.GetUserByUsername(context.Background(), "alice")
	if err != nil || stored.ID != u.ID {
		t.Errorf("user not persisted: %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*auth.RegisterInput)
		field string
	}{
		{"short username", func(in *auth.RegisterInput) { in.Username = "a" }, "username"},
		{"long username", func(in *auth.RegisterInput) { in.Username = "abcdefghijklmnopqrstuvwxyz01234" }, "username"},
		{"bad email", func(in *auth.RegisterInput) { in.Email = "not-an-email" }, "email"},
		{"display name email", func(in *auth.RegisterInput) { in.Email = "Alice <alice@example.com>" }, "email"},
		{"long email", func(in *auth.RegisterInput) {
			in.Email = "abcdefghijklmnopqrstuvwxyz0123456789abcdef@example.com"
		}, "email"},
		{"missing phone", func(in *auth.RegisterInput) { in.Phone = "  " }, "phone"},
		{"short password", func(in *auth.RegisterInput) { in.Password, in.Confirm = "abc", "abc" }, "password"},
		{"mismatched confirm", func(in *auth.RegisterInput) { in.Confirm = "hunter23" }, "confirm_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			in := validInput()
			tt.edit(&in)

			_, err := svc.Register(context.Background(), in)
			var ferr *auth.FieldError
			if !errors.As(err, &ferr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if ferr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ferr.Field)
			}
			if !errors.Is(err, auth.ErrInvalidInput) {
				t.Error("FieldError should match ErrInvalidInput")
			}
		})
	}
}

func TestRegister_Duplicates(t *testing.T) {
	tests := []struct {
		name string
		edit func(*auth.RegisterInput)
	}{
		{"username", func(in *auth.RegisterInput) { in.Email, in.Phone = "b@example.com", "555-0199" }},
		{"email", func(in *auth.RegisterInput) { in.Username, in.Phone = "bob", "555-0199" }},
		{"phone", func(in *auth.RegisterInput) { in.Username, in.Email = "bob", "b@example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			if _, err := svc.Register(context.Background(), validInput()); err != nil {
				t.Fatalf("first register: %v", err)
			}

			in := validInput()
			tt.edit(&in)
			_, err := svc.Register(context.Background(), in)
			if !errors.Is(err, auth.ErrAlreadyExists) {
				t.Fatalf("expected ErrAlreadyExists, got %v", err)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	u, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, got, err := svc.Authenticate(context.Background(), "alice", "hunter22")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected user %s, got %s", u.ID, got.ID)
	}

	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != u.ID || claims.Name != "alice" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if _, _, err := svc.Authenticate(context.Background(), "alice", "wrong-pass"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, _, err := svc.Authenticate(context.Background(), "nobody", "hunter22"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	svc, _ := newTestService(t)

	sign := func(key string, method jwt.SigningMethod, exp time.Time) string {
		claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user1",
			ExpiresAt: jwt.NewNumericDate(exp),
		}}
		s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	tests := map[string]string{
		"garbage":      "not.a.token",
		"wrong secret": sign("other-secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour)),
		"expired":      sign(secret, jwt.SigningMethodHS256, time.Now().Add(-time.Minute)),
		"wrong algo":   sign(secret, jwt.SigningMethodHS512, time.Now().Add(time.Hour)),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.ParseToken(token); !errors.Is(err, auth.ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	token, err := svc.IssueToken(&model.User{ID: "user1", Username: "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen string
	h := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest("GET", "/api/v1/account", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusNoContent && seen != "user1" {
				t.Errorf("expected user1 in context, got %q", seen)
			}
			if tt.status == http.StatusUnauthorized {
				var body map[string]string
				json.NewDecoder(w.Body).Decode(&body)
				if body["code"] != "unauthorized" {
					t.Errorf("expected code unauthorized, got %v", body)
				}
			}
		})
	}
}
