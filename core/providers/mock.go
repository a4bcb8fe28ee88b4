package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"authflow/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/thejerf/abtime"
)

// Predefined test client credentials
const (
	MockPoolID       = "eu-west-1_mockpool"
	MockClientID     = "mock_client_id"
	MockClientSecret = "mock_client_secret"
	MockRegion       = "eu-west-1"
	MockSigningKey   = "mock-signing-key"
)

// ValidCode is the verification code every mock sign-up is issued.
const ValidCode = "123456"

const defaultMockTokenTTL = time.Hour

type mockAccount struct {
	username  string
	password  string
	email     string
	sub       string
	confirmed bool
}

// MockPool is an in-memory stand-in for a Cognito user pool that enforces
// the same account lifecycle: sign-up creates an unconfirmed account, a
// matching code confirms it, and only confirmed accounts can authenticate.
type MockPool struct {
	hasher   core.SecretHasher
	clock    abtime.AbstractTime
	TokenTTL time.Duration

	mu       sync.Mutex
	accounts map[string]*mockAccount
	current  string
	session  *core.Session

	// aliases maps a verified email to the username that owns it
	aliases map[string]string

	// Errors returned instead of the normal outcome when set
	SignUpErr       error
	AuthenticateErr error
	ConfirmErr      error
	GetSessionErr   error
	SignOutErr      error
	CurrentUserErr  error

	// track method calls for verification
	SignUpCalls       int
	AuthenticateCalls int
	ConfirmCalls      int
	GetSessionCalls   int
	SignOutCalls      int
	CurrentUserCalls  int

	LastSignUp       core.SignUpRequest
	LastConfirm      core.ConfirmRequest
	LastAuthenticate core.AuthenticationDetails
}

// NewMockPool builds an empty pool. A nil hasher disables SecretHash checks;
// a nil clock uses real time.
func NewMockPool(hasher core.SecretHasher, clock abtime.AbstractTime) *MockPool {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &MockPool{
		hasher:   hasher,
		clock:    clock,
		TokenTTL: defaultMockTokenTTL,
		accounts: make(map[string]*mockAccount),
		aliases:  make(map[string]string),
	}
}

// TotalCalls counts every provider operation, CurrentUser included.
func (m *MockPool) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SignUpCalls + m.AuthenticateCalls + m.ConfirmCalls +
		m.GetSessionCalls + m.SignOutCalls + m.CurrentUserCalls
}

func (m *MockPool) SignUp(ctx context.Context, req core.SignUpRequest) (*core.SignUpResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignUpCalls++
	m.LastSignUp = req

	if m.SignUpErr != nil {
		return nil, m.SignUpErr
	}
	if err := m.checkSecretHash(req.Identifier, req.SecretHash); err != nil {
		return nil, err
	}
	if _, exists := m.accounts[req.Identifier]; exists {
		return nil, &core.ProviderError{Code: core.CodeUsernameExists, Message: "User already exists", StatusCode: 400}
	}
	if len(req.Password) < 8 {
		return nil, &core.ProviderError{Code: core.CodeInvalidPassword, Message: "Password did not conform with policy: Password not long enough", StatusCode: 400}
	}

	account := &mockAccount{
		username: req.Identifier,
		password: req.Password,
		sub:      uuid.NewString(),
	}
	for _, attr := range req.Attributes {
		if attr.Name == "email" {
			account.email = attr.Value
		}
	}
	m.accounts[req.Identifier] = account

	return &core.SignUpResult{
		Username:      account.username,
		UserSub:       account.sub,
		UserConfirmed: false,
		CodeDelivery: &core.CodeDelivery{
			Destination:   maskEmail(account.email),
			Medium:        "EMAIL",
			AttributeName: "email",
		},
	}, nil
}

func (m *MockPool) CurrentUser(ctx context.Context) (core.PoolUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentUserCalls++

	if m.CurrentUserErr != nil {
		return nil, m.CurrentUserErr
	}
	if m.current == "" {
		return nil, nil
	}
	return &mockUser{pool: m, username: m.current}, nil
}

func (m *MockPool) User(identifier string) core.PoolUser {
	return &mockUser{pool: m, username: identifier}
}

// AliasOwner returns the username whose verified email alias is email.
func (m *MockPool) AliasOwner(email string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.aliases[email]
	return owner, ok
}

// Confirmed reports whether the account exists and has been verified.
func (m *MockPool) Confirmed(identifier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[identifier]
	return ok && account.confirmed
}

func (m *MockPool) checkSecretHash(identifier, secretHash string) error {
	if m.hasher == nil {
		return nil
	}
	expected, err := m.hasher.SecretHash(identifier)
	if err != nil || expected != secretHash {
		return &core.ProviderError{
			Code:       core.CodeNotAuthorized,
			Message:    "Unable to verify secret hash for client " + MockClientID,
			StatusCode: 400,
		}
	}
	return nil
}

func (m *MockPool) issueSession(account *mockAccount) (*core.Session, error) {
	now := m.clock.Now()
	idToken, err := m.issueToken(account, "id", now)
	if err != nil {
		return nil, err
	}
	accessToken, err := m.issueToken(account, "access", now)
	if err != nil {
		return nil, err
	}
	return &core.Session{
		IDToken:      idToken,
		AccessToken:  accessToken,
		RefreshToken: "mock_refresh_" + account.sub,
	}, nil
}

func (m *MockPool) issueToken(account *mockAccount, use string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":              account.sub,
		"email":            account.email,
		"email_verified":   account.confirmed,
		"cognito:username": account.username,
		"token_use":        use,
		"iss":              "https://cognito-idp." + MockRegion + ".amazonaws.com/" + MockPoolID,
		"iat":              jwt.NewNumericDate(now),
		"exp":              jwt.NewNumericDate(now.Add(m.TokenTTL)),
		"jti":              uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(MockSigningKey))
}

type mockUser struct {
	pool     *MockPool
	username string
}

func (u *mockUser) Username() string {
	return u.username
}

func (u *mockUser) AuthenticateUser(ctx context.Context, details core.AuthenticationDetails) (*core.Session, error) {
	m := u.pool
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthenticateCalls++
	m.LastAuthenticate = details

	if m.AuthenticateErr != nil {
		return nil, m.AuthenticateErr
	}
	if err := m.checkSecretHash(details.Username, details.SecretHash); err != nil {
		return nil, err
	}

	account, ok := m.accounts[details.Username]
	if !ok || account.password != details.Password {
		return nil, &core.ProviderError{Code: core.CodeNotAuthorized, Message: "Incorrect username or password.", StatusCode: 400}
	}
	if !account.confirmed {
		return nil, &core.ProviderError{Code: core.CodeUserNotConfirmed, Message: "User is not confirmed.", StatusCode: 400}
	}

	session, err := m.issueSession(account)
	if err != nil {
		return nil, err
	}
	m.current = account.username
	m.session = session

	copied := *session
	return &copied, nil
}

func (u *mockUser) ConfirmRegistration(ctx context.Context, req core.ConfirmRequest) error {
	m := u.pool
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfirmCalls++
	m.LastConfirm = req

	if m.ConfirmErr != nil {
		return m.ConfirmErr
	}
	if err := m.checkSecretHash(u.username, req.SecretHash); err != nil {
		return err
	}

	account, ok := m.accounts[u.username]
	if !ok {
		return &core.ProviderError{Code: core.CodeUserNotFound, Message: "Username/client id combination not found.", StatusCode: 400}
	}
	if req.Code != ValidCode {
		return &core.ProviderError{Code: core.CodeCodeMismatch, Message: "Invalid verification code provided, please try again.", StatusCode: 400}
	}
	if account.confirmed {
		return &core.ProviderError{Code: core.CodeNotAuthorized, Message: "User cannot be confirmed. Current status is CONFIRMED", StatusCode: 400}
	}
	if owner, taken := m.aliases[account.email]; taken && owner != account.username {
		if !req.ForceAliasCreation {
			return &core.ProviderError{Code: core.CodeAliasExists, Message: "An account with the email already exists.", StatusCode: 400}
		}
		m.accounts[owner].email = ""
	}
	if account.email != "" {
		m.aliases[account.email] = account.username
	}

	account.confirmed = true
	return nil
}

func (u *mockUser) GetSession(ctx context.Context) (*core.Session, error) {
	m := u.pool
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetSessionCalls++

	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	if m.current != u.username || m.session == nil {
		return nil, &core.ProviderError{Code: core.CodeNoSession, Message: "Local storage is missing an ID Token, Please authenticate"}
	}

	copied := *m.session
	return &copied, nil
}

func (u *mockUser) SignOut(ctx context.Context) error {
	m := u.pool
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignOutCalls++

	if m.SignOutErr != nil {
		return m.SignOutErr
	}
	if m.current == u.username {
		m.current = ""
		m.session = nil
	}
	return nil
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 1 {
		return email
	}
	return email[:1] + "***" + email[at:]
}
