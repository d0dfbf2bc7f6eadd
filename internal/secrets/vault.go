package secrets

import (
	"context"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"
)

// vaultPath maps each Name to its key within the control plane's KV v2
// secret mount.
var vaultPath = map[Name]string{
	AuthToken:         "auth_token",
	IdentitySigning:   "identity_signing",
	ProvenanceSigning: "provenance_signing",
	PolicySigning:     "policy_signing",
}

// VaultProvider resolves secrets from a Vault KV v2 mount, selected via
// AGENTHUB_SECRET_PROVIDER=vault.
type VaultProvider struct {
	client    *vaultapi.Client
	mountPath string
	secretKey string
}

// NewVaultProvider builds a provider against the given Vault address,
// reading secrets/data/<secretKey> in mountPath.
func NewVaultProvider(addr, token, mountPath, secretKey string) (*VaultProvider, error) {
	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{client: client, mountPath: mountPath, secretKey: secretKey}, nil
}

func (p *VaultProvider) Get(name Name) (string, error) {
	field, ok := vaultPath[name]
	if !ok {
		return "", fmt.Errorf("secrets: unknown name %q", name)
	}

	kv := p.client.KVv2(p.mountPath)
	secret, err := kv.Get(context.Background(), p.secretKey)
	if err != nil {
		return "", fmt.Errorf("secrets: vault read %s/%s: %w", p.mountPath, p.secretKey, err)
	}
	value, ok := secret.Data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("secrets: vault field %q missing at %s/%s", field, p.mountPath, p.secretKey)
	}
	return value, nil
}
