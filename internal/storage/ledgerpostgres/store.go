package ledgerpostgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gymchain/gymchain-ledger/internal/protocol"
	"github.com/gymchain/gymchain-ledger/internal/storage"
)

//go:embed migrations/001_init.sql
var migration001 string

const uniqueViolation = "23505"

type Store struct {
	pool   *pgxpool.Pool
	issuer string
}

var _ storage.BlockStore = (*Store)(nil)

func Open(ctx context.Context, dsn string, maxConns, minConns int32, issuer string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool, issuer: issuer}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migration001)
	if err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) ([]protocol.Block, error) {
	rows, err := s.pool.Query(ctx, `
SELECT block_index, block_ts, record_json, prev_hash, content_hash, signature
FROM ledger_blocks WHERE issuer = $1 ORDER BY block_index ASC
`, s.issuer)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var out []protocol.Block
	for rows.Next() {
		var b protocol.Block
		var recordRaw []byte
		if err := rows.Scan(&b.Index, &b.Timestamp, &recordRaw, &b.PrevHash, &b.ContentHash, &b.Signature); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		if err := json.Unmarshal(recordRaw, &b.Record); err != nil {
			return nil, fmt.Errorf("decode block %d record: %w", b.Index, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return out, nil
}

// Append inserts b after checking, in the same serializable transaction,
// that it directly follows the latest stored block.
func (s *Store) Append(ctx context.Context, b protocol.Block) error {
	recordRaw, err := json.Marshal(b.Record)
	if err != nil {
		return fmt.Errorf("encode block %d record: %w", b.Index, err)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var latest int64 = -1
	err = tx.QueryRow(ctx, `SELECT block_index FROM ledger_blocks WHERE issuer = $1 ORDER BY block_index DESC LIMIT 1`, s.issuer).Scan(&latest)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read latest block: %w", err)
	}
	if b.Index <= latest {
		return storage.ErrIndexConflict
	}
	if b.Index != latest+1 {
		return storage.ErrOutOfOrder
	}

	_, err = tx.Exec(ctx, `
INSERT INTO ledger_blocks (
  issuer,
  block_index,
  block_ts,
  record_json,
  prev_hash,
  content_hash,
  signature
) VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7)
`, s.issuer, b.Index, b.Timestamp, recordRaw, b.PrevHash, b.ContentHash, b.Signature)
	if isUniqueViolation(err) {
		return storage.ErrIndexConflict
	}
	if err != nil {
		return fmt.Errorf("insert block %d: %w", b.Index, err)
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
