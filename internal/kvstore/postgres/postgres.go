// Package postgres implements the key-value contract on a PostgreSQL
// table, one row per key. Transactions map directly onto database
// transactions, so this backend provides true multi-key atomicity.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keyfs/keyfs/internal/config"
	"github.com/keyfs/keyfs/internal/fserrors"
	"github.com/keyfs/keyfs/internal/kvstore"
	"github.com/keyfs/keyfs/pkg/logging"
	"github.com/keyfs/keyfs/pkg/logging/slogext"
)

type Store struct {
	pool  *pgxpool.Pool
	table string
}

func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	const op = "postgres.Open"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	if err := cfg.Validate(); err != nil {
		return nil, fserrors.E(fserrors.KindInvalidArgument, op, "", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		logger.Error("Failed to create connection pool", slogext.Err(err))
		return nil, translate(op, err)
	}

	if err = pool.Ping(ctx); err != nil {
		logger.Error("Failed to connect to database", slogext.Err(err))
		pool.Close()
		return nil, translate(op, err)
	}

	s := &Store{pool: pool, table: pgx.Identifier{cfg.Table}.Sanitize()}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key   TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)
	`, s.table)
	if _, err := pool.Exec(ctx, schema); err != nil {
		logger.Error("Failed to ensure schema", slogext.Err(err))
		pool.Close()
		return nil, translate(op, err)
	}

	logger.Info("Connected to database")
	return s, nil
}

// Factory adapts Open to the registry signature.
func Factory(ctx context.Context, cfg *config.Config) (kvstore.Store, error) {
	return Open(ctx, cfg.Postgres)
}

func (s *Store) Name() string {
	return "postgres"
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Begin(ctx context.Context, mode kvstore.Mode) (kvstore.Tx, error) {
	const op = "postgres.Store.Begin"

	opts := pgx.TxOptions{AccessMode: pgx.ReadWrite}
	if mode == kvstore.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}

	pgtx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, translate(op, err)
	}

	return &tx{pgtx: pgtx, table: s.table, mode: mode}, nil
}

func (s *Store) Clear(ctx context.Context) error {
	const op = "postgres.Store.Clear"

	if _, err := s.pool.Exec(ctx, "TRUNCATE "+s.table); err != nil {
		return translate(op, err)
	}
	return nil
}

type tx struct {
	pgtx  pgx.Tx
	table string
	mode  kvstore.Mode
}

func (t *tx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const op = "postgres.tx.Get"

	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", t.table)

	var value []byte
	err := t.pgtx.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, translate(op, err)
	}

	return value, true, nil
}

func (t *tx) Put(ctx context.Context, key string, value []byte, _ bool) error {
	const op = "postgres.tx.Put"

	if t.mode == kvstore.ReadOnly {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errReadOnly)
	}

	// pgx encodes a nil byte slice as SQL NULL, which the NOT NULL value
	// column rejects. An absent payload is an empty one.
	if value == nil {
		value = []byte{}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value
	`, t.table)

	if _, err := t.pgtx.Exec(ctx, query, key, value); err != nil {
		return translate(op, err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, key string) error {
	const op = "postgres.tx.Delete"

	if t.mode == kvstore.ReadOnly {
		return fserrors.E(fserrors.KindInvalidArgument, op, "", errReadOnly)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", t.table)

	if _, err := t.pgtx.Exec(ctx, query, key); err != nil {
		return translate(op, err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	const op = "postgres.tx.Commit"

	if err := t.pgtx.Commit(ctx); err != nil {
		return translate(op, err)
	}
	return nil
}

func (t *tx) Abort(ctx context.Context) error {
	const op = "postgres.tx.Abort"

	err := t.pgtx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return translate(op, err)
	}
	return nil
}

var errReadOnly = errors.New("write in read-only transaction")

// translate maps PostgreSQL failures onto the filesystem taxonomy by
// SQLSTATE. Anything without a recognizable cause is an I/O failure.
func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "53100", "53200": // disk_full, out_of_memory
			return fserrors.E(fserrors.KindOutOfSpace, op, "", err)
		case "42501", "28000", "28P01": // insufficient_privilege, auth failures
			return fserrors.E(fserrors.KindPermissionDenied, op, "", err)
		}
	}
	return fserrors.E(fserrors.KindIOFailure, op, "", err)
}
