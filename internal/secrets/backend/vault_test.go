package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

const kvResponse = `{
  "data": {
    "data": {"API_KEY": "from-vault"},
    "metadata": {
      "created_time": "2026-01-01T00:00:00Z",
      "deletion_time": "",
      "destroyed": false,
      "version": 3
    }
  }
}`

func newVaultServer(t *testing.T, sealed bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/kv/data/API_KEY", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(kvResponse))
	})
	mux.HandleFunc("/v1/kv/data/FORBIDDEN", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
	})
	mux.HandleFunc("/v1/kv/data/BUSY", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"errors":["Vault is sealed"]}`))
	})
	mux.HandleFunc("/v1/kv/data/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	})
	mux.HandleFunc("/v1/sys/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if sealed {
			_, _ = w.Write([]byte(`{"initialized":true,"sealed":true,"standby":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"initialized":true,"sealed":false,"standby":false}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestVaultBackend(t *testing.T, sealed bool) *VaultBackend {
	t.Helper()
	server := newVaultServer(t, sealed)
	b, err := NewVaultBackend(VaultConfig{Address: server.URL, Token: "root-token", MountPath: "kv"})
	require.NoError(t, err)
	return b
}

func TestVaultBackend_Fetch(t *testing.T) {
	ctx := context.Background()
	b := newTestVaultBackend(t, false)
	assert.Equal(t, "vault", b.Name())

	t.Run("Success", func(t *testing.T) {
		env, err := b.Fetch(ctx, "API_KEY")
		require.NoError(t, err)
		value, err := env.Value("API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "from-vault", string(value))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := b.Fetch(ctx, "NOPE")
		assert.ErrorIs(t, err, secretsDomain.ErrMissingSecret)
	})

	t.Run("AccessDenied", func(t *testing.T) {
		_, err := b.Fetch(ctx, "FORBIDDEN")
		assert.ErrorIs(t, err, secretsDomain.ErrAccessDenied)
	})

	t.Run("Transient", func(t *testing.T) {
		_, err := b.Fetch(ctx, "BUSY")
		assert.Equal(t, secretsDomain.KindTransient, secretsDomain.KindOf(err))
	})
}

func TestVaultBackend_Ping(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, newTestVaultBackend(t, false).Ping(ctx))

	err := newTestVaultBackend(t, true).Ping(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, secretsDomain.ErrTransient)
	assert.Contains(t, err.Error(), "sealed=true")
}

func TestNewVaultBackendWithClient_DefaultMount(t *testing.T) {
	b := NewVaultBackendWithClient(nil, "")
	assert.Equal(t, "secret", b.mount)
}
