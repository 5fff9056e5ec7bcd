package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// FileBackend serves secrets from a flat YAML or JSON map. The file is read
// on every fetch so edits are picked up without a restart.
type FileBackend struct {
	path string
}

// NewFileBackend creates a FileBackend reading path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Name() string {
	return "file"
}

func (b *FileBackend) Fetch(_ context.Context, name string) (secretsDomain.Envelope, error) {
	values, err := b.load()
	if err != nil {
		return secretsDomain.Envelope{}, secretsDomain.NewBackendError(secretsDomain.KindUnknown, "ReadFile", name, err)
	}

	value, ok := values[name]
	if !ok || value == nil {
		return secretsDomain.Envelope{}, notFound("ReadFile", name)
	}
	if s, ok := value.(string); ok {
		return singleValue(name, s)
	}

	raw, err := json.Marshal(map[string]any{name: value})
	if err != nil {
		return secretsDomain.Envelope{}, fmt.Errorf("failed to encode %q from %s: %w", name, b.path, err)
	}
	return secretsDomain.Envelope{Raw: raw}, nil
}

// Ping checks that the file is readable and parses.
func (b *FileBackend) Ping(context.Context) error {
	if _, err := b.load(); err != nil {
		return secretsDomain.NewBackendError(secretsDomain.KindUnknown, "ReadFile", "", err)
	}
	return nil
}

// load parses the file. YAML is a superset of JSON, so both decode here.
func (b *FileBackend) load() (map[string]any, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file %s: %w", b.path, err)
	}
	return values, nil
}
