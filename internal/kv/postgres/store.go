// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package postgres implements kv.Store on a single PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/freshkv/freshkv/internal/kv"
)

// poolIface is the subset of pgxpool.Pool used by the store, satisfied by
// pgxmock.PgxPoolIface in unit tests.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

const (
	getSQL = `SELECT parts, value, versionstamp FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	listSQL = `SELECT parts, value, versionstamp FROM kv_entries
		WHERE starts_with(key, $1) AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key`

	lockSQL = `SELECT key, versionstamp, (expires_at IS NOT NULL AND expires_at <= now())
		FROM kv_entries WHERE key = ANY($1) ORDER BY key FOR UPDATE`

	nextVersionSQL = `SELECT nextval('kv_versionstamp_seq')`

	upsertSQL = `INSERT INTO kv_entries (key, parts, value, versionstamp, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			parts = EXCLUDED.parts,
			value = EXCLUDED.value,
			versionstamp = EXCLUDED.versionstamp,
			expires_at = EXCLUDED.expires_at`

	// insertAbsentSQL only replaces a row that has already expired, so two
	// transactions racing to claim the same absent key cannot both succeed:
	// the loser blocks on the winner's row and then updates nothing.
	insertAbsentSQL = upsertSQL + `
		WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now()`

	deleteSQL = `DELETE FROM kv_entries WHERE key = $1`

	deleteExpiredSQL = `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

// Store implements kv.Store on the kv_entries table.
type Store struct {
	pool poolIface
	now  func() time.Time
}

// New creates a Store over an existing pool.
func New(pool poolIface) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Open connects a pgx pool to dsn and wraps it in a Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("KV_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	return New(pool), nil
}

// Get returns the live entry for key.
func (s *Store) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	rows, err := s.pool.Query(ctx, getSQL, key.String())
	if err != nil {
		return kv.Entry{}, oops.Code("KV_GET_FAILED").With("key", key.String()).Wrap(err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return kv.Entry{}, oops.Code("KV_GET_FAILED").With("key", key.String()).Wrap(err)
	}
	if len(entries) == 0 {
		return kv.Entry{Key: key}, nil
	}
	return entries[0], nil
}

// List returns all live entries under prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix kv.Key) ([]kv.Entry, error) {
	like := prefix.String()
	if len(prefix) > 0 {
		like += "/"
	}
	rows, err := s.pool.Query(ctx, listSQL, like)
	if err != nil {
		return nil, oops.Code("KV_LIST_FAILED").With("prefix", prefix.String()).Wrap(err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, oops.Code("KV_LIST_FAILED").With("prefix", prefix.String()).Wrap(err)
	}

	// A part containing the separator can match the string prefix without
	// matching the tuple prefix.
	out := entries[:0]
	for _, e := range entries {
		if e.Key.HasPrefix(prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Commit runs checks and mutations in one SQL transaction.
func (s *Store) Commit(ctx context.Context, checks []kv.Check, mutations []kv.Mutation) (vs kv.Versionstamp, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", oops.Code("KV_COMMIT_FAILED").With("operation", "begin").Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // commit error or check failure takes precedence
		}
	}()

	absent, err := s.verifyChecks(ctx, tx, checks)
	if err != nil {
		return "", err
	}

	var next int64
	if err := tx.QueryRow(ctx, nextVersionSQL).Scan(&next); err != nil {
		return "", classify(err, "allocate versionstamp")
	}
	vs = formatVersionstamp(next)

	now := s.now()
	for _, m := range mutations {
		if err := s.apply(ctx, tx, m, next, now, absent[m.Key.String()]); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", classify(err, "commit")
	}
	committed = true
	return vs, nil
}

// verifyChecks locks the checked rows and compares versions. It returns the
// set of keys asserted absent.
func (s *Store) verifyChecks(ctx context.Context, tx pgx.Tx, checks []kv.Check) (map[string]bool, error) {
	absent := make(map[string]bool)
	if len(checks) == 0 {
		return absent, nil
	}

	keys := make([]string, 0, len(checks))
	for _, c := range checks {
		keys = append(keys, c.Key.String())
		if c.Versionstamp == "" {
			absent[c.Key.String()] = true
		}
	}

	rows, err := tx.Query(ctx, lockSQL, keys)
	if err != nil {
		return nil, classify(err, "lock checked keys")
	}
	defer rows.Close()

	current := make(map[string]kv.Versionstamp, len(keys))
	for rows.Next() {
		var key string
		var version int64
		var expired bool
		if err := rows.Scan(&key, &version, &expired); err != nil {
			return nil, classify(err, "scan checked key")
		}
		if !expired {
			current[key] = formatVersionstamp(version)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate checked keys")
	}

	for _, c := range checks {
		if current[c.Key.String()] != c.Versionstamp {
			return nil, kv.ErrCheckFailed
		}
	}
	return absent, nil
}

func (s *Store) apply(ctx context.Context, tx pgx.Tx, m kv.Mutation, version int64, now time.Time, mustBeAbsent bool) error {
	key := m.Key.String()

	if m.Kind == kv.MutationDelete {
		if _, err := tx.Exec(ctx, deleteSQL, key); err != nil {
			return classify(err, "delete")
		}
		return nil
	}
	if m.Kind != kv.MutationSet {
		return oops.Code("KV_INVALID_MUTATION").With("kind", m.Kind).Errorf("unknown mutation kind")
	}

	var expiresAt *time.Time
	if m.ExpireIn > 0 {
		t := now.Add(m.ExpireIn)
		expiresAt = &t
	}

	query := upsertSQL
	if mustBeAbsent {
		query = insertAbsentSQL
	}
	tag, err := tx.Exec(ctx, query, key, []string(m.Key), m.Value, version, expiresAt)
	if err != nil {
		return classify(err, "set")
	}
	if mustBeAbsent && tag.RowsAffected() == 0 {
		return kv.ErrCheckFailed
	}
	return nil
}

// DeleteExpired removes rows whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteExpiredSQL)
	if err != nil {
		return 0, oops.Code("KV_SWEEP_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("KV_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanEntries(rows pgx.Rows) ([]kv.Entry, error) {
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var parts []string
		var value []byte
		var version int64
		if err := rows.Scan(&parts, &value, &version); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller with key context
		}
		entries = append(entries, kv.Entry{
			Key:          kv.Key(parts),
			Value:        value,
			Versionstamp: formatVersionstamp(version),
		})
	}
	return entries, rows.Err() //nolint:wrapcheck // wrapped by caller with key context
}

// classify turns write conflicts reported by PostgreSQL into
// kv.ErrCheckFailed and wraps everything else.
func classify(err error, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return kv.ErrCheckFailed
		}
	}
	return oops.Code("KV_COMMIT_FAILED").With("operation", operation).Wrap(err)
}

func formatVersionstamp(v int64) kv.Versionstamp {
	return kv.Versionstamp(fmt.Sprintf("%020x", v))
}

