package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore keeps records in the dedup_records table (sqlite or postgres).
type SQLStore struct {
	db     *sqlx.DB
	maxTTL time.Duration
}

func NewSQLStore(db *sqlx.DB, maxTTL time.Duration) *SQLStore {
	return &SQLStore{db: db, maxTTL: maxTTL}
}

func (s *SQLStore) MaxTTL() time.Duration {
	return s.maxTTL
}

type recordRow struct {
	Hash      string `db:"hash"`
	ItemID    string `db:"item_id"`
	Link      string `db:"link"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (s *SQLStore) Get(ctx context.Context, hash string, now time.Time) (Record, bool, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT hash, item_id, link, created_at, expires_at FROM dedup_records WHERE hash = ? AND expires_at > ?`),
		hash, now.Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to query dedup record: %w", err)
	}

	return Record{
		Hash:      row.Hash,
		ItemID:    row.ItemID,
		Link:      row.Link,
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		ExpiresAt: time.Unix(row.ExpiresAt, 0).UTC(),
	}, true, nil
}

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	if err := checkTTL(s, rec); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO dedup_records (hash, item_id, link, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			item_id = excluded.item_id,
			link = excluded.link,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`),
		rec.Hash, rec.ItemID, rec.Link, rec.CreatedAt.Unix(), rec.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert dedup record: %w", err)
	}
	return nil
}

func (s *SQLStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM dedup_records WHERE expires_at <= ?`), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired dedup records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
