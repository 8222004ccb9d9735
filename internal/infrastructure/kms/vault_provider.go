// Package kms reads service secrets, such as the audit signing key, from HashiCorp Vault.
package kms

import (
	"context"
	"fmt"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/patrickmn/go-cache"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// AuditKeyField is the field of the audit secret holding the HMAC key.
const AuditKeyField = "hmac_key"

// VaultProvider reads KV v2 secrets and keeps them in a short-lived in-memory cache.
type VaultProvider struct {
	vaultClient *vault.Client
	l1Cache     *cache.Cache
	logger      logger.Logger
	config      config.VaultConfig
}

// NewVaultClient builds an API client for the configured address and token.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultConfig.Address = cfg.Address
	}
	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, errors.ErrInvalidConfig("vault client").WithCause(err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}

// NewVaultProvider creates a new VaultProvider.
func NewVaultProvider(cfg config.VaultConfig, vaultClient *vault.Client, log logger.Logger) *VaultProvider {
	return &VaultProvider{
		vaultClient: vaultClient,
		l1Cache:     cache.New(5*time.Minute, 10*time.Minute),
		logger:      log.WithComponent("VaultProvider"),
		config:      cfg,
	}
}

// GetSecretField returns one string field of the KV v2 secret at path.
func (p *VaultProvider) GetSecretField(ctx context.Context, path, field string) (string, error) {
	cacheKey := path + "#" + field
	if v, found := p.l1Cache.Get(cacheKey); found {
		return v.(string), nil
	}

	mount := strings.Trim(p.config.MountPath, "/")
	if mount == "" {
		mount = "secret"
	}
	vaultPath := fmt.Sprintf("%s/data/%s", mount, strings.TrimLeft(path, "/"))

	secret, err := p.vaultClient.Logical().ReadWithContext(ctx, vaultPath)
	if err != nil {
		p.logger.Error(ctx, "failed to read secret from Vault", err, logger.String("path", vaultPath))
		return "", errors.ErrUpstreamUnavailable("vault").WithCause(err)
	}
	if secret == nil || secret.Data["data"] == nil {
		return "", errors.ErrNotFound(fmt.Sprintf("secret not found in vault: %s", vaultPath))
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.ErrServerError("invalid secret format in vault")
	}
	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", errors.ErrNotFound(fmt.Sprintf("field %s not found in vault secret %s", field, vaultPath))
	}

	p.l1Cache.SetDefault(cacheKey, value)
	return value, nil
}

// AuditSigningKey returns the HMAC key used to sign audit events.
func (p *VaultProvider) AuditSigningKey(ctx context.Context) (string, error) {
	return p.GetSecretField(ctx, p.config.SecretPath, AuditKeyField)
}
