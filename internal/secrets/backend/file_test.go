package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

func writeSecretsFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileBackend_YAML(t *testing.T) {
	ctx := context.Background()
	path := writeSecretsFile(t, "secrets.yaml", `
API_KEY: from-yaml
DB:
  user: app
  password: hunter2
PORT: 5432
EMPTY:
`)
	b := NewFileBackend(path)
	assert.Equal(t, "file", b.Name())
	require.NoError(t, b.Ping(ctx))

	env, err := b.Fetch(ctx, "API_KEY")
	require.NoError(t, err)
	value, err := env.Value("API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", string(value))

	env, err = b.Fetch(ctx, "DB")
	require.NoError(t, err)
	value, err = env.Value("DB")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":"app","password":"hunter2"}`, string(value))

	env, err = b.Fetch(ctx, "PORT")
	require.NoError(t, err)
	value, err = env.Value("PORT")
	require.NoError(t, err)
	assert.Equal(t, "5432", string(value))

	_, err = b.Fetch(ctx, "EMPTY")
	assert.ErrorIs(t, err, secretsDomain.ErrMissingSecret)

	_, err = b.Fetch(ctx, "MISSING")
	assert.ErrorIs(t, err, secretsDomain.ErrMissingSecret)
}

func TestFileBackend_JSONAndReload(t *testing.T) {
	ctx := context.Background()
	path := writeSecretsFile(t, "secrets.json", `{"API_KEY": "v1"}`)
	b := NewFileBackend(path)

	env, err := b.Fetch(ctx, "API_KEY")
	require.NoError(t, err)
	value, err := env.Value("API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(value))

	require.NoError(t, os.WriteFile(path, []byte(`{"API_KEY": "v2"}`), 0o600))
	env, err = b.Fetch(ctx, "API_KEY")
	require.NoError(t, err)
	value, err = env.Value("API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(value))
}

func TestFileBackend_Errors(t *testing.T) {
	ctx := context.Background()

	missing := NewFileBackend(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, missing.Ping(ctx))
	_, err := missing.Fetch(ctx, "API_KEY")
	assert.ErrorIs(t, err, secretsDomain.ErrBackend)
	assert.ErrorIs(t, err, os.ErrNotExist)

	broken := NewFileBackend(writeSecretsFile(t, "broken.yaml", "API_KEY: [unterminated"))
	assert.Error(t, broken.Ping(ctx))
}
