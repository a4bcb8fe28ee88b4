package core

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Cognito CognitoConfig `yaml:"cognito"`

	// Upper bound for a single provider call. Zero means no bound.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

type CognitoConfig struct {
	UserPoolID   string `yaml:"user_pool_id"`
	ClientID     string `yaml:"user_pool_client_id"`
	ClientSecret string `yaml:"client_secret"`
	Region       string `yaml:"region"`

	// Endpoint overrides the regional Cognito endpoint (local emulators, tests).
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Validate reports ErrConfigurationMissing naming every absent value. A
// config that fails validation must not be used to build the subsystem.
func (c *Config) Validate() error {
	var missing []string
	if c.Cognito.UserPoolID == "" {
		missing = append(missing, "user_pool_id")
	}
	if c.Cognito.ClientID == "" {
		missing = append(missing, "user_pool_client_id")
	}
	if c.Cognito.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.Cognito.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}
