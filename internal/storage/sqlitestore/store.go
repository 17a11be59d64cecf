// Package sqlitestore keeps ledger blocks in a local SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/gymchain/gymchain-ledger/internal/protocol"
	"github.com/gymchain/gymchain-ledger/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
    block_index   INTEGER PRIMARY KEY,
    block_ts      TEXT NOT NULL,
    record_json   TEXT NOT NULL,
    prev_hash     TEXT NOT NULL,
    content_hash  TEXT NOT NULL,
    signature     TEXT NOT NULL
);
`

type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ storage.BlockStore = (*Store)(nil)

func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context) ([]protocol.Block, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT block_index, block_ts, record_json, prev_hash, content_hash, signature
FROM blocks ORDER BY block_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}
	defer rows.Close()

	var out []protocol.Block
	for rows.Next() {
		var b protocol.Block
		var recordRaw string
		if err := rows.Scan(&b.Index, &b.Timestamp, &recordRaw, &b.PrevHash, &b.ContentHash, &b.Signature); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		if err := json.Unmarshal([]byte(recordRaw), &b.Record); err != nil {
			return nil, fmt.Errorf("decode block %d record: %w", b.Index, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) Append(ctx context.Context, b protocol.Block) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	recordRaw, err := json.Marshal(b.Record)
	if err != nil {
		return fmt.Errorf("encode block %d record: %w", b.Index, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite append: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(block_index) FROM blocks`).Scan(&latest); err != nil {
		return fmt.Errorf("sqlite append: read latest: %w", err)
	}
	next := int64(0)
	if latest.Valid {
		next = latest.Int64 + 1
	}
	switch {
	case b.Index < next:
		return storage.ErrIndexConflict
	case b.Index > next:
		return storage.ErrOutOfOrder
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO blocks (block_index, block_ts, record_json, prev_hash, content_hash, signature)
VALUES (?, ?, ?, ?, ?, ?)`,
		b.Index, b.Timestamp, string(recordRaw), b.PrevHash, b.ContentHash, b.Signature); err != nil {
		return fmt.Errorf("sqlite append: insert: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
