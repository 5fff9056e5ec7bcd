package domain

import (
	"encoding/json"
	"unicode/utf8"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// Envelope is the raw payload a backend returns for a name. It is normally a
// JSON object keyed by secret name.
type Envelope struct {
	Raw []byte
}

// Value extracts the value stored under name. A payload that is a bare JSON
// string is returned as is. Non-string values are returned as their JSON
// encoding.
func (e Envelope) Value(name string) ([]byte, error) {
	if !utf8.Valid(e.Raw) {
		return nil, apperrors.Wrap(ErrInvalidRequest, "envelope is not valid UTF-8")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Raw, &fields); err != nil {
		var bare string
		if json.Unmarshal(e.Raw, &bare) == nil {
			return []byte(bare), nil
		}
		return nil, apperrors.Wrapf(ErrInvalidRequest, "envelope for %q is not a JSON object", name)
	}

	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil, apperrors.Wrapf(ErrMissingSecret, "envelope has no key %q", name)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s), nil
	}
	return []byte(raw), nil
}
