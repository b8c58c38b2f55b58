package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Token resolution errors.
var (
	// ErrNoSource indicates a token source with no field set.
	ErrNoSource = errors.New("token source has no env, file, value or secret")

	// ErrEmptyToken indicates a source that resolved to an empty string.
	ErrEmptyToken = errors.New("token source resolved to an empty value")

	// ErrNoSecretReader indicates a secret source resolved without a secrets client.
	ErrNoSecretReader = errors.New("secret source requires a secrets workspace")
)

// SecretRef names a value in a workspace secret scope.
type SecretRef struct {
	Scope string `json:"scope" yaml:"scope"`
	Key   string `json:"key" yaml:"key"`
}

// TokenSource says where a credential comes from. Exactly one field is set.
type TokenSource struct {
	// Env reads the named environment variable.
	Env string `json:"env,omitempty" yaml:"env,omitempty"`

	// File reads the file and trims surrounding whitespace.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Value is the literal credential. Intended for local testing.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Secret reads from the secrets workspace.
	Secret *SecretRef `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// SecretReader reads one decoded secret. *secrets.Client satisfies it.
type SecretReader interface {
	Secret(ctx context.Context, scope, key string) (string, error)
}

// String describes the source without revealing the credential.
func (s TokenSource) String() string {
	switch {
	case s.Env != "":
		return "env:" + s.Env
	case s.File != "":
		return "file:" + s.File
	case s.Value != "":
		return "value"
	case s.Secret != nil:
		return "secret:" + s.Secret.Scope + "/" + s.Secret.Key
	default:
		return "none"
	}
}

// Resolve returns the credential. reader may be nil when the source is not
// a secret.
func (s TokenSource) Resolve(ctx context.Context, reader SecretReader) (string, error) {
	var (
		v   string
		err error
	)
	switch {
	case s.Env != "":
		v = os.Getenv(s.Env)
	case s.File != "":
		var b []byte
		b, err = os.ReadFile(s.File)
		if err != nil {
			return "", fmt.Errorf("read token file %s: %w", s.File, err)
		}
		v = string(b)
	case s.Value != "":
		v = s.Value
	case s.Secret != nil:
		if reader == nil {
			return "", ErrNoSecretReader
		}
		v, err = reader.Secret(ctx, s.Secret.Scope, s.Secret.Key)
		if err != nil {
			return "", err
		}
	default:
		return "", ErrNoSource
	}

	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyToken, s)
	}
	return v, nil
}
