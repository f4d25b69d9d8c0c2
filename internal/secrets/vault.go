package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// DefaultVaultField is the KV field holding the certificate material.
const DefaultVaultField = "certificate"

// VaultLogical is the subset of the Vault logical API used for reads.
type VaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
}

// VaultProvider reads certificates from a Vault KV v2 secrets engine.
type VaultProvider struct {
	logical   VaultLogical
	mountPath string
	dataPath  string
	field     string
}

// NewVaultProvider creates a provider for the Vault at address. An empty
// address or token falls back to VAULT_ADDR and VAULT_TOKEN.
func NewVaultProvider(address, token, mountPath, dataPath string) (*VaultProvider, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to read Vault environment: %w", cfg.Error)
	}
	if address != "" {
		cfg.Address = address
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return NewVaultProviderWithLogical(client.Logical(), mountPath, dataPath), nil
}

// NewVaultProviderWithLogical creates a provider with an existing logical client.
func NewVaultProviderWithLogical(logical VaultLogical, mountPath, dataPath string) *VaultProvider {
	return &VaultProvider{
		logical:   logical,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		field:     DefaultVaultField,
	}
}

func (p *VaultProvider) GetCertificate(ctx context.Context, name string) ([]byte, error) {
	path := p.secretPath(name)

	secret, err := p.logical.ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from Vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}

	// KV v2 nests the secret fields under "data"
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response for %s", path)
	}

	value, ok := data[p.field].(string)
	if !ok {
		return nil, fmt.Errorf("field %q not found in %s", p.field, path)
	}

	log.Debug().Str("path", path).Msg("loaded certificate from Vault")

	return decodeValue(value), nil
}

func (p *VaultProvider) secretPath(name string) string {
	if p.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", p.mountPath, name)
	}
	return fmt.Sprintf("%s/data/%s/%s", p.mountPath, p.dataPath, name)
}
