// Package secrets reads credentials from HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

var ErrSecretNotFound = errors.New("secret not found")

type Option func(*options)

type options struct {
	address string
	token   string
}

func WithAddress(address string) Option {
	return func(o *options) {
		o.address = address
	}
}

func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

type Vault struct {
	api *vault.Client
}

func NewVault(opts ...Option) (*Vault, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	apiCfg := vault.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault configuration: %w", apiCfg.Error)
	}
	if o.address != "" {
		apiCfg.Address = o.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if o.token != "" {
		api.SetToken(o.token)
	}

	return &Vault{api: api}, nil
}

// Read returns the string fields of the secret at path. KV version 2 paths
// ("secret/data/...") are unwrapped to their inner data map.
func (v *Vault) Read(ctx context.Context, path string) (map[string]string, error) {
	path = strings.Trim(path, "/")

	secret, err := v.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	data := secret.Data
	if inner, ok := data["data"].(map[string]interface{}); ok {
		data = inner
	}

	values := make(map[string]string, len(data))
	for key, raw := range data {
		if s, ok := raw.(string); ok {
			values[key] = s
		}
	}
	return values, nil
}
