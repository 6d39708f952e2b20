package indexer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringPrefix = "keyring:"

// ErrSecretNotFound is returned when a keyring reference has no entry.
var ErrSecretNotFound = errors.New("secret not found")

// SecretResolver turns a configured setting value into the value to use.
type SecretResolver interface {
	Resolve(value string) (string, error)
}

// KeyringResolver reads "keyring:service/user" references from the OS
// keyring and passes other values through unchanged.
type KeyringResolver struct {
	// DefaultService is used for references without a service part.
	DefaultService string
}

// Resolve returns the plain value or the keyring entry it references.
func (k KeyringResolver) Resolve(value string) (string, error) {
	if !strings.HasPrefix(value, keyringPrefix) {
		return value, nil
	}

	ref := strings.TrimPrefix(value, keyringPrefix)
	service, user, found := strings.Cut(ref, "/")
	if !found {
		service, user = k.DefaultService, ref
	}
	if service == "" || user == "" {
		return "", fmt.Errorf("invalid keyring reference %q", value)
	}

	secret, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, service, user)
		}
		return "", fmt.Errorf("failed to read keyring: %w", err)
	}
	return secret, nil
}

// ResolveSettings resolves every value of settings with r. A nil resolver
// returns the settings unchanged.
func ResolveSettings(r SecretResolver, settings map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		if r == nil {
			out[k] = v
			continue
		}
		resolved, err := r.Resolve(v)
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}
