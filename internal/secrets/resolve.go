package secrets

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// FromConfig selects a Provider based on AGENTHUB_SECRET_PROVIDER ("env",
// the default, or "vault").
func FromConfig(config *viper.Viper) (Provider, error) {
	switch config.GetString("secret.provider") {
	case "vault":
		addr := os.Getenv("AGENTHUB_VAULT_ADDR")
		token := os.Getenv("AGENTHUB_VAULT_TOKEN")
		mount := os.Getenv("AGENTHUB_VAULT_MOUNT")
		key := os.Getenv("AGENTHUB_VAULT_SECRET_KEY")
		if addr == "" || token == "" {
			return nil, fmt.Errorf("secrets: vault provider selected but AGENTHUB_VAULT_ADDR/AGENTHUB_VAULT_TOKEN not set")
		}
		if mount == "" {
			mount = "secret"
		}
		if key == "" {
			key = "aicp"
		}
		return NewVaultProvider(addr, token, mount, key)
	default:
		return NewEnvProvider(), nil
	}
}
