package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// Document is a decoded snapshot. The timestamps are zero for documents written earlier in the
// running transaction.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder narrows a collection query.
type QueryBuilder func(firestore.Query) firestore.Query

// Collection reads and writes documents of type T, which must round-trip through the
// firestore struct tags. Inside RunInTx every call joins the transaction: reads see the
// transaction's own buffered writes and writes wait for the commit.
type Collection[T any] struct {
	provider *Provider
	name     string
}

func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Get returns the document or a not-found StoreError.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	tx, inTx := TxFromContext(ctx)
	if !inTx {
		snap, err := ref.Get(ctx)
		if err != nil {
			return Document[T]{}, WrapError(c.op("get"), err)
		}
		return c.decode(snap)
	}
	if value, deleted, ok := tx.Pending(ref); ok {
		if deleted {
			return Document[T]{}, WrapError(c.op("get"), status.Error(codes.NotFound, "deleted in this transaction"))
		}
		return c.buffered(id, value)
	}
	snap, err := tx.Get(ref)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decode(snap)
}

// Set writes value whole, creating the document when needed.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		tx.Set(ref, value)
		return nil
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.op("set"), err)
}

// Create fails with a conflict when id is taken.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	tx, inTx := TxFromContext(ctx)
	if !inTx {
		_, err = ref.Create(ctx, value)
		return WrapError(c.op("create"), err)
	}
	// the commit would reject it too, but only after every other write of the transaction
	switch _, err := c.Get(ctx, id); {
	case err == nil:
		return WrapError(c.op("create"), status.Error(codes.AlreadyExists, "document exists"))
	case !repositories.IsNotFound(err):
		return err
	}
	tx.Create(ref, value)
	return nil
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		tx.Delete(ref)
		return nil
	}
	_, err = ref.Delete(ctx)
	return WrapError(c.op("delete"), err)
}

// Query runs build against the collection.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	return c.QueryMatch(ctx, build, nil)
}

// QueryMatch is Query for use inside transactions, where Firestore cannot see buffered writes.
// A buffered document replaces its stored version, and is kept only if match accepts it. With
// a nil match, buffered documents outside the query result are left out and the ones inside
// it are kept as is.
func (c *Collection[T]) QueryMatch(ctx context.Context, build QueryBuilder, match func(T) bool) ([]Document[T], error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	q := coll.Query
	if build != nil {
		q = build(q)
	}
	tx, inTx := TxFromContext(ctx)
	var it *firestore.DocumentIterator
	if inTx {
		it = tx.Documents(q)
	} else {
		it = q.Documents(ctx)
	}
	defer it.Stop()

	var out []Document[T]
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if !inTx {
		return out, nil
	}
	return c.merge(out, tx.PendingIn(coll), match)
}

func (c *Collection[T]) merge(found []Document[T], pending []PendingWrite, match func(T) bool) ([]Document[T], error) {
	if len(pending) == 0 {
		return found, nil
	}
	pos := make(map[string]int, len(found))
	for i, d := range found {
		pos[d.ID] = i
	}
	drop := map[string]bool{}
	for _, w := range pending {
		i, inResult := pos[w.ID]
		if w.Deleted {
			drop[w.ID] = inResult
			continue
		}
		doc, err := c.buffered(w.ID, w.Value)
		if err != nil {
			return nil, err
		}
		accepted := match != nil && match(doc.Data)
		if inResult {
			if match == nil || accepted {
				found[i] = doc
			} else {
				drop[w.ID] = true
			}
			continue
		}
		if accepted {
			pos[w.ID] = len(found)
			found = append(found, doc)
		}
	}
	kept := found[:0]
	for _, d := range found {
		if !drop[d.ID] {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, CreateTime: snap.CreateTime, UpdateTime: snap.UpdateTime}, nil
}

func (c *Collection[T]) buffered(id string, value any) (Document[T], error) {
	data, ok := value.(T)
	if !ok {
		return Document[T]{}, fmt.Errorf("firestore: buffered %s/%s holds %T", c.name, id, value)
	}
	return Document[T]{ID: id, Data: data}, nil
}

func (c *Collection[T]) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil || c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection is not configured"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("doc"), errors.New("firestore: empty document id"))
	}
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	if c == nil || c.name == "" {
		return "firestore." + action
	}
	return c.name + "." + action
}
