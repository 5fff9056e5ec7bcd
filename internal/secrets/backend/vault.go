package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/vault/api"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// VaultConfig holds the settings of the Vault KV v2 backend.
type VaultConfig struct {
	Address string
	Token   string
	// MountPath is the KV v2 mount, e.g. "secret".
	MountPath string
	Timeout   time.Duration
}

// VaultBackend reads secrets from a Vault KV v2 mount. The secret stored at
// path <name> is expected to carry a field named <name>.
type VaultBackend struct {
	client *api.Client
	mount  string
}

// NewVaultBackend creates a VaultBackend.
func NewVaultBackend(cfg VaultConfig) (*VaultBackend, error) {
	apiCfg := api.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiCfg.Error)
	}
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}
	// Retries are owned by the retriever.
	apiCfg.MaxRetries = 0

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewVaultBackendWithClient(client, cfg.MountPath), nil
}

// NewVaultBackendWithClient wraps an existing client.
func NewVaultBackendWithClient(client *api.Client, mount string) *VaultBackend {
	if mount == "" {
		mount = "secret"
	}
	return &VaultBackend{client: client, mount: mount}
}

func (b *VaultBackend) Name() string {
	return "vault"
}

func (b *VaultBackend) Fetch(ctx context.Context, name string) (secretsDomain.Envelope, error) {
	secret, err := b.client.KVv2(b.mount).Get(ctx, name)
	if err != nil {
		return secretsDomain.Envelope{}, fail("KVv2.Get", name, err)
	}
	if secret == nil || secret.Data == nil {
		return secretsDomain.Envelope{}, notFound("KVv2.Get", name)
	}

	raw, err := json.Marshal(secret.Data)
	if err != nil {
		return secretsDomain.Envelope{}, fmt.Errorf("failed to encode vault secret %q: %w", name, err)
	}
	return secretsDomain.Envelope{Raw: raw}, nil
}

// Ping fails when Vault is unreachable, uninitialized or sealed.
func (b *VaultBackend) Ping(ctx context.Context) error {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fail("Sys.Health", "", err)
	}
	if !health.Initialized || health.Sealed {
		return secretsDomain.NewBackendError(
			secretsDomain.KindTransient,
			"Sys.Health",
			"",
			fmt.Errorf("vault is not ready (initialized=%t, sealed=%t)", health.Initialized, health.Sealed),
		)
	}
	return nil
}
