package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/store"
)

const tokenIssuer = "queijaria"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// Accounts is the slice of the store that holds user accounts.
type Accounts interface {
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager signs access tokens for accounts in the store and guards the manager PIN.
// It keeps no copy of the accounts: a token is only honoured while its account is
// still in the store and active, with the role the store has now.
type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	accounts   Accounts
	logger     *log.Entry
}

type shopClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, accounts Accounts) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	logger := log.WithField("component", "auth")

	// An empty PIN leaves reversals locked.
	var pinHash string
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		hashed, err := hashPassword(pin)
		if err != nil {
			logger.WithError(err).Error("failed to hash manager pin; reversals stay locked")
		}
		pinHash = hashed
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: pinHash,
		accounts:   accounts,
		logger:     logger,
	}
}

// isAuthFailure separates a refused credential or token from a store failure.
func isAuthFailure(err error) bool {
	return errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) || errors.Is(err, errInvalidToken)
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := normalizeUsername(req.Username)
	account, err := a.accounts.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("load account: %w", err)
	}

	matched, legacy := checkPassword(account.Password, req.Password)
	if !matched {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}
	if legacy {
		a.upgradePassword(ctx, username, req.Password)
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// upgradePassword replaces a plain-text password left by an older seed with its hash.
// The login has already succeeded, so a failed write is only logged.
func (a *AuthManager) upgradePassword(ctx context.Context, username, password string) {
	hashed, err := hashPassword(password)
	if err == nil {
		err = a.accounts.UpdateUserPassword(ctx, username, hashed)
	}
	if err != nil {
		a.logger.WithError(err).WithField("username", username).Warn("failed to store upgraded password hash")
		return
	}
	a.logger.WithField("username", username).Info("upgraded plain-text password to bcrypt")
}

// ParseToken checks signature, issuer and expiry. It does not look at the store;
// Authenticate does.
func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &shopClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

// Authenticate resolves a bearer token to the account behind it.
func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, error) {
	actor, err := a.ParseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}
	account, err := a.accounts.GetUser(ctx, actor.Username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Actor{}, errInvalidToken
	}
	if err != nil {
		return domain.Actor{}, fmt.Errorf("load account: %w", err)
	}
	if !account.Active {
		return domain.Actor{}, errInactiveAccount
	}
	return domain.Actor{Username: account.Username, Role: account.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := shopClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateManagerPIN gates sale reversals.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || a.managerPIN == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.CashierUser{}, fmt.Errorf("%w: username must be at least 4 characters", domain.ErrValidation)
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.CashierUser{}, fmt.Errorf("%w: username must not contain spaces", domain.ErrValidation)
	case len(strings.TrimSpace(req.Password)) < 6:
		return domain.CashierUser{}, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrValidation)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.accounts.CreateUser(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.CashierUser{}, fmt.Errorf("%w: username already exists", domain.ErrValidation)
		}
		return domain.CashierUser{}, err
	}
	return toCashier(account), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	accounts, err := a.accounts.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CashierUser, 0, len(accounts))
	for _, account := range accounts {
		if account.Role == domain.RoleCashier {
			out = append(out, toCashier(account))
		}
	}
	return out, nil
}

func toCashier(account domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

// checkPassword compares input against the stored password. legacy is set when the
// stored value is plain text, which older seeds wrote.
func checkPassword(stored, input string) (matched, legacy bool) {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false, false
	}
	if isPasswordHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil, false
	}
	matched = subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
	return matched, matched
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
