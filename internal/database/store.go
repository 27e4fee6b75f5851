// Package database provides SQL storage backends for the key-value contract.
//
// Keys live in kv_keys (with an optional expiry in unix milliseconds); values
// live in one table per data type. Expired keys are dropped lazily on access
// and in bulk by Cleanup.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
)

// Store is a kv.Backend backed by a SQL database.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	kv.Backend

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Cleanup removes every expired key and returns how many were removed.
	Cleanup(ctx context.Context) (int64, error)
}

var dataTables = []string{"kv_strings", "kv_zsets", "kv_hashes"}

// sqlStore holds the dialect-independent implementation.
type sqlStore struct {
	conn     *sql.DB
	name     string
	dbType   string
	numbered bool // PostgreSQL uses $1, $2 placeholders
	now      func() time.Time
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SetClock replaces the time source used for expiry, for tests.
func (s *sqlStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *sqlStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Name returns the backend name.
func (s *sqlStore) Name() string { return s.name }

// DatabaseType returns the database product name.
func (s *sqlStore) DatabaseType() string { return s.dbType }

// Ping checks the connection.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

// withTx runs fn in a transaction, rolling back on error.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// dropKey deletes key from every table.
func (s *sqlStore) dropKey(ctx context.Context, tx *sql.Tx, key string) error {
	for _, table := range dataTables {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE key = ?"), key); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	_, err := tx.ExecContext(ctx, s.rebind("DELETE FROM kv_keys WHERE key = ?"), key)
	return err
}

// purgeIfExpired drops key when its expiry has passed.
func (s *sqlStore) purgeIfExpired(ctx context.Context, tx *sql.Tx, key string) error {
	var expiresAt sql.NullInt64
	err := tx.QueryRowContext(ctx, s.rebind("SELECT expires_at FROM kv_keys WHERE key = ?"), key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.nowMillis() {
		return s.dropKey(ctx, tx, key)
	}
	return nil
}

// ensureKey registers key without an expiry if it is not present yet.
func (s *sqlStore) ensureKey(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, s.rebind(
		"INSERT INTO kv_keys (key, expires_at) VALUES (?, NULL) ON CONFLICT (key) DO NOTHING"), key)
	return err
}

// live reports whether key exists and has not expired.
func (s *sqlStore) live(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*) FROM kv_keys WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)"),
		key, s.nowMillis()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.dropKey(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO kv_keys (key, expires_at) VALUES (?, ?)"), key, expiresAt); err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO kv_strings (key, value) VALUES (?, ?)"), key, value); err != nil {
			return fmt.Errorf("insert string: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.live(ctx, key)
}

func (s *sqlStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res, err := s.conn.ExecContext(ctx, s.rebind(
		"UPDATE kv_keys SET expires_at = ? WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)"),
		s.now().Add(ttl).UnixMilli(), key, s.nowMillis())
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *sqlStore) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	var score float64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.purgeIfExpired(ctx, tx, key); err != nil {
			return err
		}
		if err := s.ensureKey(ctx, tx, key); err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO kv_zsets (key, member, score) VALUES (?, ?, ?)
			ON CONFLICT (key, member) DO UPDATE SET score = kv_zsets.score + excluded.score`),
			key, member, delta)
		if err != nil {
			return fmt.Errorf("upsert member: %w", err)
		}
		return tx.QueryRowContext(ctx, s.rebind("SELECT score FROM kv_zsets WHERE key = ? AND member = ?"), key, member).Scan(&score)
	})
	return score, err
}

func (s *sqlStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]kv.ScoredMember, error) {
	ok, err := s.live(ctx, key)
	if err != nil || !ok {
		return []kv.ScoredMember{}, err
	}

	query := "SELECT member, score FROM kv_zsets WHERE key = ? ORDER BY score DESC, member DESC"
	args := []interface{}{key}
	bounded := start >= 0 && stop >= 0
	if bounded {
		if start > stop {
			return []kv.ScoredMember{}, nil
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, stop-start+1, start)
	}

	rows, err := s.conn.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []kv.ScoredMember
	for rows.Next() {
		var m kv.ScoredMember
		if err := rows.Scan(&m.Member, &m.Score); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if bounded {
		if members == nil {
			members = []kv.ScoredMember{}
		}
		return members, nil
	}
	return kv.SliceRange(members, start, stop), nil
}

func (s *sqlStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.purgeIfExpired(ctx, tx, key); err != nil {
			return err
		}
		if err := s.ensureKey(ctx, tx, key); err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		for field, value := range fields {
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO kv_hashes (key, field, value) VALUES (?, ?, ?)
				ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`),
				key, field, value)
			if err != nil {
				return fmt.Errorf("upsert field %s: %w", field, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields := make(map[string]string)
	ok, err := s.live(ctx, key)
	if err != nil || !ok {
		return fields, err
	}
	rows, err := s.conn.QueryContext(ctx, s.rebind("SELECT field, value FROM kv_hashes WHERE key = ?"), key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err
		}
		fields[f] = v
	}
	return fields, rows.Err()
}

// Cleanup deletes all expired keys.
func (s *sqlStore) Cleanup(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.nowMillis()
		expired := "SELECT key FROM kv_keys WHERE expires_at IS NOT NULL AND expires_at <= ?"
		for _, table := range dataTables {
			if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE key IN ("+expired+")"), now); err != nil {
				return fmt.Errorf("cleanup %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM kv_keys WHERE expires_at IS NOT NULL AND expires_at <= ?"), now)
		if err != nil {
			return fmt.Errorf("cleanup keys: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
