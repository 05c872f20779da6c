package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

type writeKind int

const (
	writeSet writeKind = iota
	writeCreate
	writeDelete
)

type bufferedWrite struct {
	ref   *firestore.DocumentRef
	kind  writeKind
	value any
}

// Tx wraps a Firestore transaction and defers every write until the callback returns, so all
// reads reach Firestore before the first write. Reads through a Collection observe the
// buffered writes.
type Tx struct {
	tx *firestore.Transaction

	mu     sync.Mutex
	writes map[string]*bufferedWrite
	order  []string
}

func newTx(tx *firestore.Transaction) *Tx {
	return &Tx{tx: tx, writes: make(map[string]*bufferedWrite)}
}

type txKey struct{}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Get reads a document inside the transaction.
func (t *Tx) Get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return t.tx.Get(ref)
}

// Documents runs a query inside the transaction.
func (t *Tx) Documents(q firestore.Queryer) *firestore.DocumentIterator {
	return t.tx.Documents(q)
}

// Set buffers an upsert.
func (t *Tx) Set(ref *firestore.DocumentRef, value any) {
	t.buffer(ref, writeSet, value)
}

// Create buffers a create. The commit fails with AlreadyExists when the document exists.
func (t *Tx) Create(ref *firestore.DocumentRef, value any) {
	t.buffer(ref, writeCreate, value)
}

// Delete buffers a delete.
func (t *Tx) Delete(ref *firestore.DocumentRef) {
	t.buffer(ref, writeDelete, nil)
}

func (t *Tx) buffer(ref *firestore.DocumentRef, kind writeKind, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ref.Path
	if existing, ok := t.writes[key]; ok {
		// a create followed by a set stays a create
		if existing.kind == writeCreate && kind == writeSet {
			kind = writeCreate
		}
		existing.kind = kind
		existing.value = value
		return
	}
	t.writes[key] = &bufferedWrite{ref: ref, kind: kind, value: value}
	t.order = append(t.order, key)
}

// Pending returns the buffered value for the document. deleted is true when the document was
// deleted in this transaction; ok is false when nothing is buffered.
func (t *Tx) Pending(ref *firestore.DocumentRef) (value any, deleted bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, found := t.writes[ref.Path]
	if !found {
		return nil, false, false
	}
	return w.value, w.kind == writeDelete, true
}

// PendingIn lists buffered writes for documents of the collection, in write order.
func (t *Tx) PendingIn(collection *firestore.CollectionRef) []PendingWrite {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingWrite
	for _, key := range t.order {
		w := t.writes[key]
		if w.ref.Parent == nil || w.ref.Parent.Path != collection.Path {
			continue
		}
		out = append(out, PendingWrite{ID: w.ref.ID, Value: w.value, Deleted: w.kind == writeDelete})
	}
	return out
}

// PendingWrite is a buffered write exposed for read-your-writes overlays.
type PendingWrite struct {
	ID      string
	Value   any
	Deleted bool
}

func (t *Tx) flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range t.order {
		w := t.writes[key]
		var err error
		switch w.kind {
		case writeCreate:
			err = t.tx.Create(w.ref, w.value)
		case writeDelete:
			err = t.tx.Delete(w.ref)
		default:
			err = t.tx.Set(w.ref, w.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// RunInTx executes fn inside a transaction on client. The transaction travels in the context
// handed to fn; a context that already carries one joins it instead of starting a new one.
func RunInTx(ctx context.Context, client *firestore.Client, fn func(ctx context.Context) error, opts ...TxOption) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	firestoreOpts := make([]firestore.TransactionOption, 0, 1)
	if cfg.attempts > 0 {
		firestoreOpts = append(firestoreOpts, firestore.MaxAttempts(cfg.attempts))
	}

	// fn errors are returned untouched so service sentinels survive the round trip
	var fnErr error
	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		buffered := newTx(tx)
		if err := fn(withTx(ctx, buffered)); err != nil {
			fnErr = err
			return err
		}
		fnErr = nil
		return buffered.flush()
	}, firestoreOpts...)
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapError("transaction", err)
}
