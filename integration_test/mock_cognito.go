package integration_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	mockPoolID       = "eu-west-1_integration"
	mockClientID     = "integration_client_id"
	mockClientSecret = "integration_client_secret"
	mockRegion       = "eu-west-1"
	validCode        = "123456"

	targetPrefix = "AWSCognitoIdentityProviderService."
)

type cognitoAccount struct {
	username  string
	password  string
	email     string
	sub       string
	confirmed bool
}

// MockCognitoServer speaks the subset of the Cognito JSON protocol the
// client uses: SignUp, ConfirmSignUp, InitiateAuth and RevokeToken.
type MockCognitoServer struct {
	server *httptest.Server

	mu            sync.Mutex
	accounts      map[string]*cognitoAccount
	refreshTokens map[string]string
	revoked       []string
	calls         map[string]int
	tokenTTL      time.Duration
}

func NewMockCognitoServer() *MockCognitoServer {
	m := &MockCognitoServer{}
	m.Reset()
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockCognitoServer) URL() string {
	return m.server.URL
}

func (m *MockCognitoServer) Close() {
	m.server.Close()
}

func (m *MockCognitoServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]*cognitoAccount)
	m.refreshTokens = make(map[string]string)
	m.revoked = nil
	m.calls = make(map[string]int)
	m.tokenTTL = time.Hour
}

func (m *MockCognitoServer) SetTokenTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenTTL = ttl
}

func (m *MockCognitoServer) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

func (m *MockCognitoServer) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MockCognitoServer) Revoked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.revoked...)
}

// RevokeAll invalidates every refresh token issued so far.
func (m *MockCognitoServer) RevokeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token := range m.refreshTokens {
		m.revoked = append(m.revoked, token)
	}
	m.refreshTokens = make(map[string]string)
}

func (m *MockCognitoServer) handle(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")
	if r.Method != http.MethodPost || !strings.HasPrefix(target, targetPrefix) {
		writeCognitoError(w, "UnknownOperationException", "unknown operation")
		return
	}
	operation := strings.TrimPrefix(target, targetPrefix)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[operation]++

	switch operation {
	case "SignUp":
		m.signUp(w, r)
	case "ConfirmSignUp":
		m.confirmSignUp(w, r)
	case "InitiateAuth":
		m.initiateAuth(w, r)
	case "RevokeToken":
		m.revokeToken(w, r)
	default:
		writeCognitoError(w, "UnknownOperationException", "unsupported operation "+operation)
	}
}

func (m *MockCognitoServer) signUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientId       string
		Username       string
		Password       string
		SecretHash     string
		UserAttributes []struct {
			Name  string
			Value string
		}
	}
	if !decodeCognito(w, r, &req) || !checkSecretHash(w, req.Username, req.SecretHash) {
		return
	}
	if _, exists := m.accounts[req.Username]; exists {
		writeCognitoError(w, "UsernameExistsException", "User already exists")
		return
	}
	if len(req.Password) < 8 {
		writeCognitoError(w, "InvalidPasswordException", "Password did not conform with policy: Password not long enough")
		return
	}

	account := &cognitoAccount{username: req.Username, password: req.Password, sub: uuid.NewString()}
	for _, attr := range req.UserAttributes {
		if attr.Name == "email" {
			account.email = attr.Value
		}
	}
	m.accounts[req.Username] = account

	writeCognito(w, map[string]interface{}{
		"UserConfirmed": false,
		"UserSub":       account.sub,
		"CodeDeliveryDetails": map[string]string{
			"AttributeName":  "email",
			"DeliveryMedium": "EMAIL",
			"Destination":    account.email,
		},
	})
}

func (m *MockCognitoServer) confirmSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientId           string
		Username           string
		ConfirmationCode   string
		SecretHash         string
		ForceAliasCreation bool
	}
	if !decodeCognito(w, r, &req) || !checkSecretHash(w, req.Username, req.SecretHash) {
		return
	}

	account, ok := m.accounts[req.Username]
	if !ok {
		writeCognitoError(w, "UserNotFoundException", "Username/client id combination not found.")
		return
	}
	if req.ConfirmationCode != validCode {
		writeCognitoError(w, "CodeMismatchException", "Invalid verification code provided, please try again.")
		return
	}
	if account.confirmed {
		writeCognitoError(w, "NotAuthorizedException", "User cannot be confirmed. Current status is CONFIRMED")
		return
	}
	account.confirmed = true
	writeCognito(w, map[string]interface{}{})
}

func (m *MockCognitoServer) initiateAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthFlow       string
		ClientId       string
		AuthParameters map[string]string
	}
	if !decodeCognito(w, r, &req) {
		return
	}
	params := req.AuthParameters

	var (
		account      *cognitoAccount
		refreshToken string
	)
	switch req.AuthFlow {
	case "USER_PASSWORD_AUTH":
		if !checkSecretHash(w, params["USERNAME"], params["SECRET_HASH"]) {
			return
		}
		found, ok := m.accounts[params["USERNAME"]]
		if !ok || found.password != params["PASSWORD"] {
			writeCognitoError(w, "NotAuthorizedException", "Incorrect username or password.")
			return
		}
		if !found.confirmed {
			writeCognitoError(w, "UserNotConfirmedException", "User is not confirmed.")
			return
		}
		account = found
		refreshToken = uuid.NewString()
		m.refreshTokens[refreshToken] = account.username

	case "REFRESH_TOKEN_AUTH":
		username, ok := m.refreshTokens[params["REFRESH_TOKEN"]]
		if !ok {
			writeCognitoError(w, "NotAuthorizedException", "Invalid Refresh Token")
			return
		}
		if !checkSecretHash(w, username, params["SECRET_HASH"]) {
			return
		}
		account = m.accounts[username]

	default:
		writeCognitoError(w, "InvalidParameterException", "unsupported auth flow "+req.AuthFlow)
		return
	}

	now := time.Now()
	result := map[string]interface{}{
		"IdToken":     m.issueToken(account, "id", now),
		"AccessToken": m.issueToken(account, "access", now),
		"ExpiresIn":   int(m.tokenTTL.Seconds()),
		"TokenType":   "Bearer",
	}
	if refreshToken != "" {
		result["RefreshToken"] = refreshToken
	}
	writeCognito(w, map[string]interface{}{
		"AuthenticationResult": result,
		"ChallengeParameters":  map[string]string{},
	})
}

func (m *MockCognitoServer) revokeToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientId     string
		ClientSecret string
		Token        string
	}
	if !decodeCognito(w, r, &req) {
		return
	}
	if req.ClientSecret != mockClientSecret {
		writeCognitoError(w, "NotAuthorizedException", "Client secret mismatch")
		return
	}
	delete(m.refreshTokens, req.Token)
	m.revoked = append(m.revoked, req.Token)
	writeCognito(w, map[string]interface{}{})
}

func (m *MockCognitoServer) issueToken(account *cognitoAccount, use string, now time.Time) string {
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":              account.sub,
		"email":            account.email,
		"email_verified":   account.confirmed,
		"cognito:username": account.username,
		"token_use":        use,
		"iss":              "https://cognito-idp." + mockRegion + ".amazonaws.com/" + mockPoolID,
		"iat":              jwt.NewNumericDate(now),
		"exp":              jwt.NewNumericDate(now.Add(m.tokenTTL)),
		"jti":              uuid.NewString(),
	}).SignedString([]byte("integration-signing-key"))
	return token
}

func checkSecretHash(w http.ResponseWriter, username, secretHash string) bool {
	mac := hmac.New(sha256.New, []byte(mockClientSecret))
	mac.Write([]byte(username + mockClientID))
	if secretHash != base64.StdEncoding.EncodeToString(mac.Sum(nil)) {
		writeCognitoError(w, "NotAuthorizedException", "Unable to verify secret hash for client "+mockClientID)
		return false
	}
	return true
}

func decodeCognito(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeCognitoError(w, "SerializationException", err.Error())
		return false
	}
	return true
}

func writeCognito(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.Header().Set("X-Amzn-Requestid", uuid.NewString())
	json.NewEncoder(w).Encode(body)
}

func writeCognitoError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.Header().Set("X-Amzn-Requestid", uuid.NewString())
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"__type":  code,
		"message": message,
	})
}
