package core

import (
	"errors"
	"fmt"
)

var (
	ErrConfigurationMissing = errors.New("auth configuration missing")
	ErrUnavailable          = errors.New("auth subsystem unavailable")
	ErrHashDerivation       = errors.New("secret hash derivation failed")
	ErrSessionRetrieval     = errors.New("session retrieval failed")
	ErrLocalValidation      = errors.New("invalid request")
	ErrPasswordMismatch     = fmt.Errorf("%w: passwords do not match", ErrLocalValidation)
	ErrNotFound             = errors.New("not found")
)

// Provider error codes, as reported by Cognito.
const (
	CodeUsernameExists    = "UsernameExistsException"
	CodeInvalidPassword   = "InvalidPasswordException"
	CodeInvalidParameter  = "InvalidParameterException"
	CodeNotAuthorized     = "NotAuthorizedException"
	CodeUserNotFound      = "UserNotFoundException"
	CodeUserNotConfirmed  = "UserNotConfirmedException"
	CodeCodeMismatch      = "CodeMismatchException"
	CodeExpiredCode       = "ExpiredCodeException"
	CodeAliasExists       = "AliasExistsException"
	CodeTooManyRequests   = "TooManyRequestsException"
	CodeLimitExceeded     = "LimitExceededException"
	CodeChallengeRequired = "ChallengeRequired"
	CodeNoSession         = "NoSession"
	CodeNetwork           = "NetworkError"
)

// ProviderError is a structured rejection returned by the identity provider.
type ProviderError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderErrorCode returns the provider code carried by err, or "" when err
// is not a provider rejection.
func ProviderErrorCode(err error) string {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}
