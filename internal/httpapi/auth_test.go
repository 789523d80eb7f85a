package httpapi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/store/memory"
)

func storeWithAdmin(t *testing.T, password string, active bool) *memory.Store {
	t.Helper()
	repo := memory.New()
	err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "admin",
		Password:  password,
		Role:      domain.RoleAdmin,
		Active:    active,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return repo
}

func TestLoginUpgradesLegacyPlainPassword(t *testing.T) {
	ctx := context.Background()
	repo := storeWithAdmin(t, "admin123", true)

	manager := NewAuthManager("test-secret", time.Hour, "123456", repo)
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	saved, err := repo.GetUser(ctx, "admin")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", saved.Password)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}

func TestLoginIssuesTokenThatAuthenticates(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager("test-secret", time.Hour, "123456", storeWithAdmin(t, "admin123", true))

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.Authenticate(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("another-secret", time.Hour, "123456", storeWithAdmin(t, "admin123", true))
	if _, err := other.Authenticate(ctx, resp.AccessToken); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected token signed with another secret to be rejected, got %v", err)
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager("test-secret", time.Hour, "123456", storeWithAdmin(t, "admin123", true))

	for _, req := range []domain.LoginRequest{
		{Username: "admin", Password: "nope"},
		{Username: "admin", Password: ""},
		{Username: "ghost", Password: "admin123"},
	} {
		if _, err := manager.Login(ctx, req); !errors.Is(err, errInvalidCredentials) {
			t.Fatalf("expected invalid credentials for %q, got %v", req.Username, err)
		}
	}

	inactive := NewAuthManager("test-secret", time.Hour, "123456", storeWithAdmin(t, "admin123", false))
	if _, err := inactive.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"}); !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account to be refused, got %v", err)
	}
}

func TestAuthenticateTrustsStoreOverClaims(t *testing.T) {
	ctx := context.Background()
	repo := storeWithAdmin(t, "admin123", true)
	manager := NewAuthManager("test-secret", time.Hour, "123456", repo)

	if _, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "balcao1", Password: "pass1234"}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}

	forged, err := manager.sign("balcao1", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	actor, err := manager.Authenticate(ctx, forged)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if actor.Role != domain.RoleCashier {
		t.Fatalf("expected role from the store, got %s", actor.Role)
	}

	ghost, err := manager.sign("ghost", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.Authenticate(ctx, ghost); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected token of unknown account to be rejected, got %v", err)
	}

	expired, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.Authenticate(ctx, expired); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	ctx := context.Background()
	repo := storeWithAdmin(t, "admin123", true)
	manager := NewAuthManager("test-secret", time.Hour, "123456", repo)

	cashier, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "Balcao1", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "balcao1" || cashier.Role != domain.RoleCashier {
		t.Fatalf("unexpected cashier %+v", cashier)
	}

	saved, err := repo.GetUser(ctx, "balcao1")
	if err != nil {
		t.Fatalf("expected cashier to be saved: %v", err)
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	_, err = manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "balcao1", Password: "pass1234"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected duplicate cashier to fail validation, got %v", err)
	}
	_, err = manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "bal", Password: "pass1234"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected short username to fail validation, got %v", err)
	}

	cashiers, err := manager.ListCashiers(ctx)
	if err != nil {
		t.Fatalf("list cashiers: %v", err)
	}
	if len(cashiers) != 1 || cashiers[0].Username != "balcao1" {
		t.Fatalf("unexpected cashiers %+v", cashiers)
	}
}

func TestAccountsCreatedByAnotherProcessLogIn(t *testing.T) {
	ctx := context.Background()
	repo := storeWithAdmin(t, "admin123", true)
	server := NewAuthManager("test-secret", time.Hour, "123456", repo)
	other := NewAuthManager("test-secret", time.Hour, "123456", repo)

	if _, err := other.CreateCashier(ctx, domain.CashierCreateRequest{Username: "balcao2", Password: "pass1234"}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if _, err := server.Login(ctx, domain.LoginRequest{Username: "balcao2", Password: "pass1234"}); err != nil {
		t.Fatalf("expected the new cashier to log in right away, got %v", err)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", memory.New())

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}

	locked := NewAuthManager("test-secret", time.Hour, "  ", memory.New())
	if locked.ValidateManagerPIN("") || locked.ValidateManagerPIN("  ") {
		t.Fatalf("expected an unset pin to refuse every attempt")
	}
}
