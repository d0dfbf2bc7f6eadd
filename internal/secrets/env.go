package secrets

import (
	"fmt"
	"os"
)

// EnvProvider resolves secrets directly from the process environment. It is
// the default provider and is fail-closed: an unset variable is an error,
// never an empty-string secret.
type EnvProvider struct{}

// NewEnvProvider builds the default environment-backed provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Get(name Name) (string, error) {
	key, ok := envVar[name]
	if !ok {
		return "", fmt.Errorf("secrets: unknown name %q", name)
	}
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secrets: %s is not set", key)
	}
	return value, nil
}
