package limiter

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLite is a sliding-window limiter persisted next to the code store, so a
// restart does not forget an active lockout.
type SQLite struct {
	db       *sql.DB
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewSQLite constructs a SQLite-backed limiter on an already-opened handle.
func NewSQLite(db *sql.DB, window time.Duration, maxFails int, blockFor time.Duration) *SQLite {
	return &SQLite{db: db, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether a register attempt is currently allowed and a
// retry-after duration.
func (l *SQLite) Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE ip_hash=?`
	var blockedUntil int64
	err := l.db.QueryRowContext(ctx, q, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		now := l.now().Unix()
		if blockedUntil > now {
			return false, time.Duration(blockedUntil-now) * time.Second, nil
		}
		return true, 0, nil
	case errors.Is(err, sql.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters after a successful register.
func (l *SQLite) Success(ctx context.Context, ipHash []byte) error {
	const q = `DELETE FROM auth_limiter WHERE ip_hash=?`
	_, err := l.db.ExecContext(ctx, q, ipHash)
	return err
}

// Failure records a failed attempt; once maxFails accumulate inside the
// window the peer is blocked for blockFor.
func (l *SQLite) Failure(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	now := l.now().Unix()
	windowStart := now - int64(l.window/time.Second)

	const upsert = `
INSERT INTO auth_limiter (ip_hash, fails, window_start) VALUES (?, 1, ?)
ON CONFLICT(ip_hash) DO UPDATE SET
    fails        = CASE WHEN auth_limiter.window_start < ? THEN 1 ELSE auth_limiter.fails + 1 END,
    window_start = CASE WHEN auth_limiter.window_start < ? THEN excluded.window_start ELSE auth_limiter.window_start END`
	if _, err := l.db.ExecContext(ctx, upsert, ipHash, now, windowStart, windowStart); err != nil {
		return false, 0, err
	}

	const sel = `SELECT fails FROM auth_limiter WHERE ip_hash=?`
	var fails int
	if err := l.db.QueryRowContext(ctx, sel, ipHash).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}

	blockedUntil := now + int64(l.blockFor/time.Second)
	const block = `UPDATE auth_limiter SET blocked_until=? WHERE ip_hash=?`
	if _, err := l.db.ExecContext(ctx, block, blockedUntil, ipHash); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
