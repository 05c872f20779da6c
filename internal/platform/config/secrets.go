package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SecretResolver resolves secret://project/name[#version] references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that ended up empty. Field names are only
// exposed hashed so the error can be logged as is.
type MissingSecretsError struct {
	fields []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("config: missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed field names, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.fields))
	for _, field := range e.fields {
		out = append(out, redactSecretName(field))
	}
	sort.Strings(out)
	return out
}

// secretFields are the settings that may hold a secret reference instead of a value.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"Postgres.DSN":      &cfg.Postgres.DSN,
		"Orders.AdminEmail": &cfg.Orders.AdminEmail,
		"Export.SignerKey":  &cfg.Export.SignerKey,
	}
}

// resolveSecrets replaces every secret reference in cfg with its value, then checks that the
// required fields are non-empty.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver, required []string) error {
	fields := secretFields(cfg)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := fields[name]
		ref, ok := secretRef(*field)
		if !ok {
			continue
		}
		if resolver == nil {
			return &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}
		value, err := resolver.ResolveSecret(ctx, ref)
		if err != nil {
			return &SecretError{Ref: ref, Err: err}
		}
		*field = strings.TrimSpace(value)
	}

	var missing []string
	seen := map[string]bool{}
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if field, ok := fields[name]; !ok || strings.TrimSpace(*field) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingSecretsError{fields: missing}
	}
	return nil
}

// secretRef normalises a secret:// or legacy sm:// reference.
func secretRef(value string) (string, bool) {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "secret://"):
		return value, true
	case strings.HasPrefix(value, "sm://"):
		return "secret://" + strings.TrimPrefix(value, "sm://"), true
	}
	return "", false
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
