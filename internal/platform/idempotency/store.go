// Package idempotency replays the stored response of a mutating request when a client retries
// it with the same Idempotency-Key, so a retried checkout never places a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Outcome is what a claim on a key tells the caller to do.
type Outcome int

const (
	// Acquired: the key is new (or expired) and the caller must run the request.
	Acquired Outcome = iota
	// Replay: a finished response is stored for the key.
	Replay
	// InFlight: another request holds the key and has not finished.
	InFlight
)

// ErrKeyReused is returned when a key comes back with a different request.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Key identifies one idempotent request. Scope is the caller, Value the client supplied key and
// Digest a hash of the request the key was first used with.
type Key struct {
	Scope  string
	Value  string
	Digest string
}

// ID is the storage identifier. Raw keys are client input, so only the hash is stored as id.
func (k Key) ID() string {
	sum := sha256.Sum256([]byte(k.Scope + "\x00" + k.Value))
	return hex.EncodeToString(sum[:])
}

// Snapshot is the response kept for replay.
type Snapshot struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry is the stored state of a key. Snapshot is nil while the request is in flight.
type Entry struct {
	Scope     string
	Digest    string
	Snapshot  *Snapshot
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e Entry) live(now time.Time) bool {
	return e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt)
}

// Claim is the result of Store.Claim.
type Claim struct {
	Outcome Outcome
	Entry   Entry
}

// Store keeps idempotency entries. Claim must be atomic: two concurrent claims on the same key
// yield exactly one Acquired.
type Store interface {
	Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key Key, snap Snapshot, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key Key) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// decideClaim is shared by the stores. current is the stored entry or nil. When the outcome is
// Acquired the returned entry must be written back.
func decideClaim(current *Entry, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	if current != nil && current.live(now) {
		if current.Digest != key.Digest {
			return Claim{}, ErrKeyReused
		}
		if current.Snapshot != nil {
			return Claim{Outcome: Replay, Entry: *current}, nil
		}
		return Claim{Outcome: InFlight, Entry: *current}, nil
	}
	return Claim{Outcome: Acquired, Entry: Entry{
		Scope:     key.Scope,
		Digest:    key.Digest,
		CreatedAt: now,
		ExpiresAt: now.Add(ttlOrDefault(ttl)),
	}}, nil
}

// finish builds the completed entry for key.
func finish(current *Entry, key Key, snap Snapshot, now time.Time, ttl time.Duration) (Entry, error) {
	created := now
	if current != nil {
		if current.Digest != key.Digest {
			return Entry{}, ErrKeyReused
		}
		created = current.CreatedAt
	}
	kept := Snapshot{Status: snap.Status, Header: replayable(snap.Header)}
	if len(snap.Body) > 0 {
		kept.Body = append([]byte(nil), snap.Body...)
	}
	return Entry{
		Scope:     key.Scope,
		Digest:    key.Digest,
		Snapshot:  &kept,
		CreatedAt: created,
		ExpiresAt: now.Add(ttlOrDefault(ttl)),
	}, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// connection-level and per-response headers are never replayed
var unreplayable = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Date":              true,
	"Keep-Alive":        true,
	"Set-Cookie":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"X-Request-Id":      true,
}

func replayable(h http.Header) http.Header {
	out := http.Header{}
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if unreplayable[name] {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
