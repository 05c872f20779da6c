package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore keeps entries in the idempotency_keys table next to the orders.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the idempotency_keys table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&keyRow{})
}

// keyRow has a null status while the request is in flight.
type keyRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Scope     string    `gorm:"size:160;not null"`
	Digest    string    `gorm:"size:64;not null"`
	Status    *int      `gorm:"column:response_status"`
	Header    string    `gorm:"column:response_header;type:text"`
	Body      []byte    `gorm:"column:response_body;type:bytea"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (keyRow) TableName() string { return "idempotency_keys" }

func rowFor(id string, e Entry) (keyRow, error) {
	row := keyRow{ID: id, Scope: e.Scope, Digest: e.Digest, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt}
	if e.Snapshot == nil {
		return row, nil
	}
	status := e.Snapshot.Status
	row.Status = &status
	row.Body = e.Snapshot.Body
	if len(e.Snapshot.Header) > 0 {
		raw, err := json.Marshal(e.Snapshot.Header)
		if err != nil {
			return keyRow{}, err
		}
		row.Header = string(raw)
	}
	return row, nil
}

func (r keyRow) entry() (Entry, error) {
	e := Entry{Scope: r.Scope, Digest: r.Digest, CreatedAt: r.CreatedAt.UTC(), ExpiresAt: r.ExpiresAt.UTC()}
	if r.Status == nil {
		return e, nil
	}
	snap := &Snapshot{Status: *r.Status, Body: r.Body}
	if r.Header != "" {
		var header http.Header
		if err := json.Unmarshal([]byte(r.Header), &header); err != nil {
			return Entry{}, err
		}
		snap.Header = header
	}
	e.Snapshot = snap
	return e, nil
}

// locked reads the row FOR UPDATE; a missing row is nil.
func locked(tx *gorm.DB, id string) (*Entry, error) {
	var row keyRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := row.entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Claim inserts with ON CONFLICT DO NOTHING so the loser of a concurrent first claim sees the
// key in flight instead of a unique violation.
func (s *PostgresStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	id := key.ID()
	var claim Claim
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := locked(tx, id)
		if err != nil {
			return err
		}
		if claim, err = decideClaim(current, key, now.UTC(), ttl); err != nil || claim.Outcome != Acquired {
			return err
		}
		row, err := rowFor(id, claim.Entry)
		if err != nil {
			return err
		}
		if current != nil {
			return tx.Save(&row).Error
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error == nil && res.RowsAffected == 0 {
			claim.Outcome = InFlight
		}
		return res.Error
	})
	return claim, err
}

func (s *PostgresStore) Complete(ctx context.Context, key Key, snap Snapshot, now time.Time, ttl time.Duration) error {
	id := key.ID()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := locked(tx, id)
		if err != nil {
			return err
		}
		entry, err := finish(current, key, snap, now.UTC(), ttl)
		if err != nil {
			return err
		}
		row, err := rowFor(id, entry)
		if err != nil {
			return err
		}
		return tx.Save(&row).Error
	})
}

func (s *PostgresStore) Abandon(ctx context.Context, key Key) error {
	return s.db.WithContext(ctx).Where("id = ?", key.ID()).Delete(&keyRow{}).Error
}

func (s *PostgresStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = purgeBatch
	}
	ids := s.db.Model(&keyRow{}).Select("id").Where("expires_at <= ?", now.UTC()).Limit(limit)
	res := s.db.WithContext(ctx).Where("id IN (?)", ids).Delete(&keyRow{})
	return int(res.RowsAffected), res.Error
}
