package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeSecretManager answers AccessSecretVersion from a resource-name table. Unknown names are
// NotFound, like the real API.
type fakeSecretManager struct {
	mu      sync.Mutex
	payload map[string]string
	fail    map[string]error
	calls   []string
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.GetName())
	if err := f.fail[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := f.payload[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretManager) Close() error { return nil }

func localSecrets(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestFetcherResolve(t *testing.T) {
	const (
		latestDSN = "projects/bqt-prod/secrets/postgres_dsn/versions/latest"
		pinnedDSN = "projects/bqt-prod/secrets/postgres_dsn/versions/7"
		adminMail = "projects/bqt-ops/secrets/admin_email/versions/2"
	)
	fallback := "# developer overrides\npostgres_dsn=postgres://localhost/bqt\npostgres_dsn.7=postgres://localhost/bqt_v7\n"

	tests := []struct {
		name     string
		ref      string
		payload  map[string]string
		fail     map[string]error
		pins     map[string]string
		want     string
		wantErr  bool
		wantCall string
	}{
		{
			name:     "latest version from secret manager",
			ref:      "secret://postgres_dsn",
			payload:  map[string]string{latestDSN: "postgres://db.internal/bqt"},
			want:     "postgres://db.internal/bqt",
			wantCall: latestDSN,
		},
		{
			name:     "pinned version",
			ref:      "secret://postgres_dsn",
			pins:     map[string]string{"postgres_dsn": "7"},
			payload:  map[string]string{pinnedDSN: "postgres://db.internal/bqt?v=7"},
			want:     "postgres://db.internal/bqt?v=7",
			wantCall: pinnedDSN,
		},
		{
			name:     "query picks project and version",
			ref:      "sm://admin_email?project=bqt-ops&version=2",
			payload:  map[string]string{adminMail: "ops@example.com"},
			want:     "ops@example.com",
			wantCall: adminMail,
		},
		{
			name:     "permission denied falls back to the local file",
			ref:      "secret://postgres_dsn",
			fail:     map[string]error{latestDSN: status.Error(codes.PermissionDenied, "denied")},
			want:     "postgres://localhost/bqt",
			wantCall: latestDSN,
		},
		{
			name:     "unavailable falls back to the pinned local entry",
			ref:      "secret://postgres_dsn?version=7",
			fail:     map[string]error{pinnedDSN: status.Error(codes.Unavailable, "try later")},
			want:     "postgres://localhost/bqt_v7",
			wantCall: pinnedDSN,
		},
		{
			name:     "missing secret is an error, not a fallback",
			ref:      "secret://postgres_dsn",
			wantErr:  true,
			wantCall: latestDSN,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeSecretManager{payload: tc.payload, fail: tc.fail}
			opts := []Option{
				WithSecretManagerClient(client),
				WithProject("bqt-prod"),
				WithFallbackFile(localSecrets(t, fallback)),
			}
			if tc.pins != nil {
				opts = append(opts, WithVersionPins(tc.pins))
			}
			fetcher, err := NewFetcher(context.Background(), opts...)
			if err != nil {
				t.Fatalf("NewFetcher: %v", err)
			}
			defer fetcher.Close()

			got, err := fetcher.Resolve(context.Background(), tc.ref)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
			} else if err != nil || got != tc.want {
				t.Fatalf("Resolve = %q, %v; want %q", got, err, tc.want)
			}
			if len(client.calls) != 1 || client.calls[0] != tc.wantCall {
				t.Fatalf("expected one call for %s, got %v", tc.wantCall, client.calls)
			}
		})
	}
}

func TestFetcherCachesResolvedValues(t *testing.T) {
	client := &fakeSecretManager{payload: map[string]string{
		"projects/bqt-prod/secrets/export_signer/versions/latest": "{}",
	}}
	fetcher, err := NewFetcher(context.Background(), WithSecretManagerClient(client), WithProject("bqt-prod"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := fetcher.ResolveSecret(context.Background(), "secret://export_signer"); err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected a single remote read, got %d", len(client.calls))
	}
}

func TestFetcherWithoutSecretManager(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("could not find default credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher, err := NewFetcher(context.Background(),
		WithProject("bqt-prod"),
		WithFallbackFile(localSecrets(t, "postgres_dsn=postgres://localhost/bqt\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher should degrade instead of failing: %v", err)
	}
	got, err := fetcher.Resolve(context.Background(), "secret://postgres_dsn")
	if err != nil || got != "postgres://localhost/bqt" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://admin_email"); err == nil {
		t.Fatal("expected an error for a secret absent from the fallback file")
	}
}

func TestParseReference(t *testing.T) {
	ref, err := parseReference(" sm://postgres_dsn?version=4&project=bqt-ops ")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if ref.name != "postgres_dsn" || ref.version != "4" || ref.project != "bqt-ops" {
		t.Fatalf("unexpected reference %+v", ref)
	}
	for _, bad := range []string{"", "https://example.com/postgres_dsn", "secret://"} {
		if _, err := parseReference(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
