// Package firestore holds the shared Firestore client, a typed collection helper and the
// buffered transaction the Firestore repositories run in.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/YunomiXavia/beQuanTri/internal/platform/config"
)

const (
	dialTimeout = 10 * time.Second
	// any collection answers a ping, an empty one too
	pingCollection = "products"
	emulatorEnv    = "FIRESTORE_EMULATOR_HOST"
)

var errClosed = errors.New("firestore: provider closed")

// Provider dials the client lazily so the API can boot while Firestore is unreachable. A failed
// dial is retried on the next call.
type Provider struct {
	project  string
	emulator string

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewProvider falls back to GOOGLE_CLOUD_PROJECT and FIRESTORE_EMULATOR_HOST for values cfg
// leaves empty.
func NewProvider(cfg config.FirestoreConfig) *Provider {
	return &Provider{
		project:  orEnv(cfg.ProjectID, "GOOGLE_CLOUD_PROJECT"),
		emulator: orEnv(cfg.EmulatorHost, emulatorEnv),
	}
}

func orEnv(value, key string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv(key))
}

func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if p == nil {
		return nil, errors.New("firestore: nil provider")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, errClosed
	case p.client != nil:
		return p.client, nil
	case p.project == "":
		return nil, errors.New("firestore: project id is required")
	}

	var opts []option.ClientOption
	if p.emulator != "" {
		// the client library looks for the emulator in the environment only
		if os.Getenv(emulatorEnv) == "" {
			_ = os.Setenv(emulatorEnv, p.emulator)
		}
		opts = append(opts,
			option.WithEndpoint(p.emulator),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, p.project, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial %s: %w", p.project, err)
	}
	p.client = client
	return client, nil
}

// Close is idempotent. It gives up waiting when ctx ends.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunInTx runs fn in a read-write transaction, or inside the one ctx already carries so that
// ledger writes join the order operation that triggered them.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunInTx(ctx, client, fn, opts...)
}

// Ping reads a single document.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	it := client.Collection(pingCollection).Limit(1).Documents(ctx)
	defer it.Stop()
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return WrapError("ping", err)
	}
	return nil
}
