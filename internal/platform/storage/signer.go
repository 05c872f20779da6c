package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
)

// URLSigner produces the signed download link for an archived export.
type URLSigner interface {
	SignURL(ctx context.Context, bucket, object string, opts *gcs.SignedURLOptions) (string, error)
}

// KeySigner signs with a service account key, typically one kept in Secret Manager.
type KeySigner struct {
	email string
	key   []byte
}

// NewKeySigner parses a service account JSON key, given raw or base64 encoded.
func NewKeySigner(raw string) (*KeySigner, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("storage: service account key is empty")
	}
	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: service account key is neither JSON nor base64: %w", err)
		}
		data = decoded
	}
	jwt, err := google.JWTConfigFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("storage: parse service account key: %w", err)
	}
	if jwt.Email == "" || len(jwt.PrivateKey) == 0 {
		return nil, errors.New("storage: service account key lacks client_email or private_key")
	}
	return &KeySigner{email: jwt.Email, key: jwt.PrivateKey}, nil
}

// Email is the service account the links are issued by.
func (s *KeySigner) Email() string { return s.email }

func (s *KeySigner) SignURL(ctx context.Context, bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	signed := *opts
	signed.GoogleAccessID = s.email
	signed.PrivateKey = s.key
	return gcs.SignedURL(bucket, object, &signed)
}

// ClientSigner lets the storage client sign with whatever credentials it runs under. On Cloud
// Run that is the runtime service account through the IAM signBlob API, so no key is stored.
type ClientSigner struct {
	client *gcs.Client
}

// NewClientSigner wraps client.
func NewClientSigner(client *gcs.Client) (*ClientSigner, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &ClientSigner{client: client}, nil
}

func (s *ClientSigner) SignURL(ctx context.Context, bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.client.Bucket(bucket).SignedURL(object, opts)
}
