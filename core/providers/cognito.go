package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"authflow/core"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	cip "github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/thejerf/abtime"
)

const (
	lastAuthUserKey    = "LastAuthUser"
	idTokenKey         = "idToken"
	accessTokenKey     = "accessToken"
	refreshTokenKey    = "refreshToken"
	cognitoHTTPTimeout = 10 * time.Second
)

type CognitoSettings struct {
	// Hasher signs refresh requests. Required when the app client has a secret.
	Hasher core.SecretHasher
	abtime.AbstractTime
	Logger *slog.Logger
}

// CognitoPool talks to a Cognito user pool and keeps the signed-in user's
// tokens in a core.Storage, keyed the way the browser SDK keys localStorage.
type CognitoPool struct {
	config *core.CognitoConfig
	client cognitoidentityprovideriface.CognitoIdentityProviderAPI
	store  core.Storage
	*CognitoSettings
}

func NewCognitoPool(config *core.CognitoConfig, store core.Storage, settings *CognitoSettings) (*CognitoPool, error) {
	// SignUp, ConfirmSignUp, InitiateAuth and RevokeToken are unsigned
	// operations; the app client id and secret hash authenticate them.
	awsConfig := aws.NewConfig().
		WithRegion(config.Region).
		WithCredentials(credentials.AnonymousCredentials).
		WithHTTPClient(&http.Client{Timeout: cognitoHTTPTimeout}).
		WithMaxRetries(0)
	if config.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewCognitoPoolWithClient(config, cip.New(sess), store, settings), nil
}

func NewCognitoPoolWithClient(config *core.CognitoConfig, client cognitoidentityprovideriface.CognitoIdentityProviderAPI, store core.Storage, settings *CognitoSettings) *CognitoPool {
	if settings == nil {
		settings = &CognitoSettings{}
	}
	if settings.AbstractTime == nil {
		settings.AbstractTime = abtime.NewRealTime()
	}
	if settings.Logger == nil {
		settings.Logger = slog.Default()
	}
	return &CognitoPool{
		config:          config,
		client:          client,
		store:           store,
		CognitoSettings: settings,
	}
}

func (p *CognitoPool) SignUp(ctx context.Context, req core.SignUpRequest) (*core.SignUpResult, error) {
	input := &cip.SignUpInput{
		ClientId: aws.String(p.config.ClientID),
		Username: aws.String(req.Identifier),
		Password: aws.String(req.Password),
	}
	if req.SecretHash != "" {
		input.SecretHash = aws.String(req.SecretHash)
	}
	for _, attr := range req.Attributes {
		input.UserAttributes = append(input.UserAttributes, &cip.AttributeType{
			Name:  aws.String(attr.Name),
			Value: aws.String(attr.Value),
		})
	}

	out, err := p.client.SignUpWithContext(ctx, input)
	if err != nil {
		return nil, providerError(ctx, err)
	}

	result := &core.SignUpResult{
		Username:      req.Identifier,
		UserSub:       aws.StringValue(out.UserSub),
		UserConfirmed: aws.BoolValue(out.UserConfirmed),
	}
	if d := out.CodeDeliveryDetails; d != nil {
		result.CodeDelivery = &core.CodeDelivery{
			Destination:   aws.StringValue(d.Destination),
			Medium:        aws.StringValue(d.DeliveryMedium),
			AttributeName: aws.StringValue(d.AttributeName),
		}
	}
	return result, nil
}

func (p *CognitoPool) CurrentUser(ctx context.Context) (core.PoolUser, error) {
	username, err := p.store.GetItem(ctx, p.key(lastAuthUserKey))
	if errors.Is(err, core.ErrNotFound) || (err == nil && username == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last authenticated user: %w", err)
	}
	return p.User(username), nil
}

func (p *CognitoPool) User(identifier string) core.PoolUser {
	return &cognitoUser{pool: p, username: identifier}
}

func (p *CognitoPool) key(name string) string {
	return "CognitoIdentityServiceProvider." + p.config.ClientID + "." + name
}

func (p *CognitoPool) userKey(username, name string) string {
	return p.key(username + "." + name)
}

func (p *CognitoPool) loadSession(ctx context.Context, username string) (*core.Session, error) {
	var session core.Session
	fields := map[string]*string{
		idTokenKey:      &session.IDToken,
		accessTokenKey:  &session.AccessToken,
		refreshTokenKey: &session.RefreshToken,
	}
	for name, dest := range fields {
		value, err := p.store.GetItem(ctx, p.userKey(username, name))
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		*dest = value
	}
	return &session, nil
}

func (p *CognitoPool) cacheSession(ctx context.Context, username string, session *core.Session) error {
	items := [][2]string{
		{p.userKey(username, idTokenKey), session.IDToken},
		{p.userKey(username, accessTokenKey), session.AccessToken},
		{p.userKey(username, refreshTokenKey), session.RefreshToken},
		{p.key(lastAuthUserKey), username},
	}
	for _, item := range items {
		if err := p.store.SetItem(ctx, item[0], item[1]); err != nil {
			return err
		}
	}
	return nil
}

func (p *CognitoPool) clearSession(ctx context.Context, username string) error {
	keys := []string{
		p.userKey(username, idTokenKey),
		p.userKey(username, accessTokenKey),
		p.userKey(username, refreshTokenKey),
		p.key(lastAuthUserKey),
	}
	for _, key := range keys {
		if err := p.store.RemoveItem(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (p *CognitoPool) sessionFromResult(res *cip.AuthenticationResultType, previousRefresh string) *core.Session {
	session := &core.Session{
		IDToken:      aws.StringValue(res.IdToken),
		AccessToken:  aws.StringValue(res.AccessToken),
		RefreshToken: aws.StringValue(res.RefreshToken),
	}
	// REFRESH_TOKEN_AUTH does not return a new refresh token.
	if session.RefreshToken == "" {
		session.RefreshToken = previousRefresh
	}
	return session
}

type cognitoUser struct {
	pool     *CognitoPool
	username string
}

func (u *cognitoUser) Username() string {
	return u.username
}

func (u *cognitoUser) AuthenticateUser(ctx context.Context, details core.AuthenticationDetails) (*core.Session, error) {
	p := u.pool
	params := map[string]*string{
		"USERNAME": aws.String(details.Username),
		"PASSWORD": aws.String(details.Password),
	}
	if details.SecretHash != "" {
		params["SECRET_HASH"] = aws.String(details.SecretHash)
	}

	out, err := p.client.InitiateAuthWithContext(ctx, &cip.InitiateAuthInput{
		AuthFlow:       aws.String(cip.AuthFlowTypeUserPasswordAuth),
		ClientId:       aws.String(p.config.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, providerError(ctx, err)
	}
	if out.ChallengeName != nil {
		return nil, &core.ProviderError{
			Code:    core.CodeChallengeRequired,
			Message: aws.StringValue(out.ChallengeName),
		}
	}
	if out.AuthenticationResult == nil {
		return nil, &core.ProviderError{Code: core.CodeNoSession, Message: "empty authentication result"}
	}

	session := p.sessionFromResult(out.AuthenticationResult, "")
	if err := p.cacheSession(ctx, u.username, session); err != nil {
		return nil, fmt.Errorf("failed to cache session: %w", err)
	}
	return session, nil
}

func (u *cognitoUser) ConfirmRegistration(ctx context.Context, req core.ConfirmRequest) error {
	p := u.pool
	input := &cip.ConfirmSignUpInput{
		ClientId:           aws.String(p.config.ClientID),
		Username:           aws.String(u.username),
		ConfirmationCode:   aws.String(req.Code),
		ForceAliasCreation: aws.Bool(req.ForceAliasCreation),
	}
	if req.SecretHash != "" {
		input.SecretHash = aws.String(req.SecretHash)
	}

	if _, err := p.client.ConfirmSignUpWithContext(ctx, input); err != nil {
		return providerError(ctx, err)
	}
	return nil
}

// GetSession returns the cached session, refreshing it through the refresh
// token once the ID or access token has expired.
func (u *cognitoUser) GetSession(ctx context.Context) (*core.Session, error) {
	p := u.pool
	session, err := p.loadSession(ctx, u.username)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached session: %w", err)
	}
	if session.IDToken == "" {
		return nil, &core.ProviderError{Code: core.CodeNoSession, Message: "Local storage is missing an ID Token, Please authenticate"}
	}
	if session.ValidAt(p.Now()) {
		return session, nil
	}
	if session.RefreshToken == "" {
		return nil, &core.ProviderError{Code: core.CodeNoSession, Message: "Cannot retrieve a new session. Please authenticate."}
	}

	return u.refresh(ctx, session.RefreshToken)
}

func (u *cognitoUser) refresh(ctx context.Context, refreshToken string) (*core.Session, error) {
	p := u.pool
	params := map[string]*string{
		"REFRESH_TOKEN": aws.String(refreshToken),
	}
	if p.Hasher != nil {
		secretHash, err := p.Hasher.SecretHash(u.username)
		if err != nil {
			return nil, err
		}
		params["SECRET_HASH"] = aws.String(secretHash)
	}

	out, err := p.client.InitiateAuthWithContext(ctx, &cip.InitiateAuthInput{
		AuthFlow:       aws.String(cip.AuthFlowTypeRefreshTokenAuth),
		ClientId:       aws.String(p.config.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, providerError(ctx, err)
	}
	if out.AuthenticationResult == nil {
		return nil, &core.ProviderError{Code: core.CodeNoSession, Message: "empty refresh result"}
	}

	session := p.sessionFromResult(out.AuthenticationResult, refreshToken)
	if err := p.cacheSession(ctx, u.username, session); err != nil {
		return nil, fmt.Errorf("failed to cache session: %w", err)
	}
	p.Logger.Debug("session refreshed", "username", u.username)
	return session, nil
}

// SignOut clears the locally held tokens. Revoking the refresh token at
// Cognito is attempted first and only logged on failure.
func (u *cognitoUser) SignOut(ctx context.Context) error {
	p := u.pool
	refreshToken, err := p.store.GetItem(ctx, p.userKey(u.username, refreshTokenKey))
	if err == nil && refreshToken != "" {
		_, revokeErr := p.client.RevokeTokenWithContext(ctx, &cip.RevokeTokenInput{
			ClientId:     aws.String(p.config.ClientID),
			ClientSecret: aws.String(p.config.ClientSecret),
			Token:        aws.String(refreshToken),
		})
		if revokeErr != nil {
			p.Logger.Warn("refresh token revocation failed", "username", u.username, "error", revokeErr)
		}
	}

	if err := p.clearSession(ctx, u.username); err != nil {
		return fmt.Errorf("failed to clear cached session: %w", err)
	}
	return nil
}

// providerError converts an SDK error into a core.ProviderError. When the
// context ended the request, the context error is what gets unwrapped.
func providerError(ctx context.Context, err error) error {
	perr := &core.ProviderError{Code: core.CodeNetwork, Message: err.Error(), Err: err}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		perr.Code = aerr.Code()
		perr.Message = aerr.Message()
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		perr.StatusCode = reqErr.StatusCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		perr.Err = ctxErr
	}
	return perr
}
