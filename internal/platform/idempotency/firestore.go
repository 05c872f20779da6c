package idempotency

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	firestoreCollection = "idempotency_keys"
	firestoreAttempts   = 5
	purgeBatch          = 200
)

// FirestoreStore keeps entries next to the orders in Firestore. The document id is Key.ID.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{client: client, collection: firestoreCollection}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type snapshotDoc struct {
	Status int                 `firestore:"status"`
	Header map[string][]string `firestore:"header,omitempty"`
	Body   []byte              `firestore:"body,omitempty"`
}

type entryDoc struct {
	Scope     string       `firestore:"scope"`
	Digest    string       `firestore:"digest"`
	Response  *snapshotDoc `firestore:"response"`
	CreatedAt time.Time    `firestore:"createdAt"`
	ExpiresAt time.Time    `firestore:"expiresAt"`
}

func toEntryDoc(e Entry) entryDoc {
	doc := entryDoc{Scope: e.Scope, Digest: e.Digest, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt}
	if e.Snapshot != nil {
		doc.Response = &snapshotDoc{Status: e.Snapshot.Status, Header: e.Snapshot.Header, Body: e.Snapshot.Body}
	}
	return doc
}

func (d entryDoc) entry() Entry {
	e := Entry{Scope: d.Scope, Digest: d.Digest, CreatedAt: d.CreatedAt.UTC(), ExpiresAt: d.ExpiresAt.UTC()}
	if d.Response != nil {
		e.Snapshot = &Snapshot{Status: d.Response.Status, Header: http.Header(d.Response.Header), Body: d.Response.Body}
	}
	return e
}

func (s *FirestoreStore) ref(key Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.ID())
}

// read loads the entry within tx; a missing document is nil.
func read(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Entry, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc entryDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	e := doc.entry()
	return &e, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	ref := s.ref(key)
	var claim Claim
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current, err := read(tx, ref)
		if err != nil {
			return err
		}
		if claim, err = decideClaim(current, key, now.UTC(), ttl); err != nil {
			return err
		}
		if claim.Outcome != Acquired {
			return nil
		}
		return tx.Set(ref, toEntryDoc(claim.Entry))
	}, firestore.MaxAttempts(firestoreAttempts))
	return claim, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key Key, snap Snapshot, now time.Time, ttl time.Duration) error {
	ref := s.ref(key)
	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current, err := read(tx, ref)
		if err != nil {
			return err
		}
		entry, err := finish(current, key, snap, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, toEntryDoc(entry))
	}, firestore.MaxAttempts(firestoreAttempts))
}

func (s *FirestoreStore) Abandon(ctx context.Context, key Key) error {
	if _, err := s.ref(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

// Purge deletes one batch of expired entries.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 || limit > purgeBatch {
		limit = purgeBatch
	}
	iter := s.client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx)
	expired, err := iter.GetAll()
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	batch := s.client.Batch()
	for _, snap := range expired {
		batch.Delete(snap.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(expired), nil
}
