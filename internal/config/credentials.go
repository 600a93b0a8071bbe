package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quotapilot/quotapilot/internal/remote"
)

// CredentialsFile is the on-disk shape of the two-identity credentials file:
//
//	primary:
//	  email: ops@example.com
//	  password: ...
//	secondary:
//	  email: ops-alt@example.com
//	  password: ...
type CredentialsFile struct {
	Primary   remote.Credentials `yaml:"primary"`
	Secondary remote.Credentials `yaml:"secondary"`
}

// LoadCredentials reads the primary and secondary identities from path, then
// applies {PREFIX}PRIMARY_EMAIL / {PREFIX}PRIMARY_PASSWORD and the matching
// SECONDARY_* environment overrides. The file may be absent when both
// identities come from the environment.
//
// The primary identity is required. A missing secondary leaves rotation
// unavailable but is not an error; the pool treats the empty slot as
// ineligible.
func LoadCredentials(path string) (*CredentialsFile, error) {
	creds := &CredentialsFile{}

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- Credentials path is user-provided
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, creds); err != nil {
				return nil, fmt.Errorf("parse credentials file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Fall through to environment overrides.
		default:
			return nil, fmt.Errorf("read credentials file %s: %w", path, err)
		}
	}

	prefix := envPrefix()
	applyCredentialEnv(&creds.Primary, prefix+"PRIMARY_EMAIL", prefix+"PRIMARY_PASSWORD")
	applyCredentialEnv(&creds.Secondary, prefix+"SECONDARY_EMAIL", prefix+"SECONDARY_PASSWORD")

	if strings.TrimSpace(creds.Primary.Email) == "" || strings.TrimSpace(creds.Primary.Password) == "" {
		return nil, fmt.Errorf("primary credentials incomplete: set them in the credentials file or via %sPRIMARY_EMAIL and %sPRIMARY_PASSWORD", prefix, prefix)
	}

	return creds, nil
}

// HasSecondary reports whether a usable secondary identity is configured.
func (c *CredentialsFile) HasSecondary() bool {
	return c != nil &&
		strings.TrimSpace(c.Secondary.Email) != "" &&
		strings.TrimSpace(c.Secondary.Password) != ""
}

func applyCredentialEnv(creds *remote.Credentials, emailVar, passwordVar string) {
	if value := strings.TrimSpace(os.Getenv(emailVar)); value != "" {
		creds.Email = value
	}
	if value := strings.TrimSpace(os.Getenv(passwordVar)); value != "" {
		creds.Password = value
	}
}
