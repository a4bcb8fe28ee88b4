package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ComputeSecretHash derives the SecretHash Cognito expects on requests from a
// client that has a secret: base64(HMAC-SHA256(clientSecret, identifier+clientID)).
func ComputeSecretHash(identifier, clientID, clientSecret string) (string, error) {
	if clientSecret == "" {
		return "", fmt.Errorf("%w: empty client secret", ErrHashDerivation)
	}

	mac := hmac.New(sha256.New, []byte(clientSecret))
	if _, err := mac.Write([]byte(identifier + clientID)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashDerivation, err)
	}

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// CredentialHasher binds the client credential so callers only supply the
// account identifier.
type CredentialHasher struct {
	clientID     string
	clientSecret string
}

func NewCredentialHasher(clientID, clientSecret string) *CredentialHasher {
	return &CredentialHasher{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

func (h *CredentialHasher) SecretHash(identifier string) (string, error) {
	return ComputeSecretHash(identifier, h.clientID, h.clientSecret)
}
