package secretmanager

import (
	"context"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

// MountPath is the KV v2 engine that holds per-environment service secrets.
const MountPath = "secret"

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault reads VAULT_ADDR, VAULT_TOKEN and friends from the environment.
func ProvideVault() (*vault.Client, error) {
	return NewClient(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(10*time.Second),
	)
}

func NewClient(opts ...vault.ClientOption) (*vault.Client, error) {
	client, err := vault.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	return client, nil
}

// Secrets is one KV v2 secret flattened to its string values.
type Secrets map[string]string

// Get returns "" for missing keys.
func (s Secrets) Get(key string) string {
	return s[key]
}

// Read loads the secret stored at path. Non-string values are dropped.
func Read(ctx context.Context, client *vault.Client, path string) (Secrets, error) {
	resp, err := client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(MountPath))
	if err != nil {
		return nil, fmt.Errorf("read secret %q: %w", path, err)
	}

	out := Secrets{}
	for k, v := range resp.Data.Data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}
