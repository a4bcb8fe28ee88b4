package core

import "time"

type Attribute struct {
	Name  string
	Value string
}

type SignUpRequest struct {
	Identifier string
	Password   string
	Attributes []Attribute
	SecretHash string
}

// CodeDelivery tells the caller where the verification code was sent.
type CodeDelivery struct {
	Destination   string `json:"destination"`
	Medium        string `json:"medium"`
	AttributeName string `json:"attribute_name"`
}

type SignUpResult struct {
	Username      string        `json:"username"`
	UserSub       string        `json:"user_sub"`
	UserConfirmed bool          `json:"user_confirmed"`
	CodeDelivery  *CodeDelivery `json:"code_delivery,omitempty"`
}

type AuthenticationDetails struct {
	Username   string
	Password   string
	SecretHash string
}

type ConfirmRequest struct {
	Code               string
	ForceAliasCreation bool
	SecretHash         string
}

// Session is the provider-issued token set for an authenticated user.
type Session struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
}

// ValidAt reports whether both the ID and access tokens are unexpired at t.
func (s *Session) ValidAt(t time.Time) bool {
	if s == nil || s.IDToken == "" || s.AccessToken == "" {
		return false
	}
	for _, token := range []string{s.IDToken, s.AccessToken} {
		exp, err := TokenExpiry(token)
		if err != nil || !t.Before(exp) {
			return false
		}
	}
	return true
}

func (s *Session) IdentityToken() string {
	return s.IDToken
}
