// Package sqlite contains the SQLite implementation of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mkrivosheev/passrelay/internal/errs"
	"github.com/mkrivosheev/passrelay/internal/model"
)

// Store implements repository.CodeStore on a single database file.
// Every mutating operation runs under one store-wide mutex; the cursor walk
// and its cursor upsert must observe a consistent snapshot per client.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the database file in WAL mode.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// DB exposes the underlying handle so migrations can run against it.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// InsertCode stores a lowercase-normalized code, assigning the next sequence
// number. A duplicate insert is a no-op reporting inserted=false.
func (s *Store) InsertCode(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `INSERT OR IGNORE INTO storage (code) VALUES (?)`
	res, err := s.db.ExecContext(ctx, q, strings.ToLower(code))
	if err != nil {
		return false, fmt.Errorf("insert code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert code: %w", err)
	}
	return n > 0, nil
}

// DeleteCode removes a code row unconditionally. Idempotent.
func (s *Store) DeleteCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `DELETE FROM storage WHERE code=?`
	if _, err := s.db.ExecContext(ctx, q, strings.ToLower(code)); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	return nil
}

// MarkCode updates the two status flags. A missing row is a silent no-op.
func (s *Store) MarkCode(ctx context.Context, code string, fullyRedeemed, other bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `UPDATE storage SET fr=?, other=? WHERE code=?`
	if _, err := s.db.ExecContext(ctx, q, boolInt(fullyRedeemed), boolInt(other), strings.ToLower(code)); err != nil {
		return fmt.Errorf("mark code: %w", err)
	}
	return nil
}

// RequestNextCode performs the per-client cursor walk: the first unflagged
// code for a new client, otherwise the smallest-sequence unflagged code past
// the cursor. The cursor is upserted to the served sequence in the same
// transaction. Flagged rows are skipped for good — the cursor only moves
// forward, so clearing a flag later never resurfaces the row.
func (s *Store) RequestNextCode(ctx context.Context, clientID string) (code string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("request next: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("request next: %w", e)
		}
	}()

	const selCursor = `SELECT seq FROM user_status WHERE user_id=?`
	const selFirst = `SELECT code, id FROM storage WHERE fr=0 AND other=0 ORDER BY id ASC LIMIT 1`
	const selNext = `SELECT code, id FROM storage WHERE id>? AND fr=0 AND other=0 ORDER BY id ASC LIMIT 1`
	const upsert = `
INSERT INTO user_status (user_id, seq) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET seq=excluded.seq`

	var lastSeq sql.NullInt64
	scanErr := tx.QueryRowContext(ctx, selCursor, clientID).Scan(&lastSeq)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		return "", scanErr
	}

	var seq int64
	if lastSeq.Valid {
		err = tx.QueryRowContext(ctx, selNext, lastSeq.Int64).Scan(&code, &seq)
	} else {
		err = tx.QueryRowContext(ctx, selFirst).Scan(&code, &seq)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.ErrNoCode
	}
	if err != nil {
		return "", err
	}

	if _, err = tx.ExecContext(ctx, upsert, clientID, seq); err != nil {
		return "", err
	}
	return code, nil
}

// GetCode loads one code row.
func (s *Store) GetCode(ctx context.Context, code string) (*model.Code, error) {
	const q = `SELECT code, id, fr, other FROM storage WHERE code=?`
	row := s.db.QueryRowContext(ctx, q, strings.ToLower(code))

	var c model.Code
	var fr, other int
	if err := row.Scan(&c.Text, &c.Seq, &fr, &other); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get code: %w", err)
	}
	c.FullyRedeemed = fr != 0
	c.Other = other != 0
	return &c, nil
}

// GetCursor loads a client's delivery cursor.
func (s *Store) GetCursor(ctx context.Context, clientID string) (*model.Cursor, error) {
	const q = `SELECT user_id, seq FROM user_status WHERE user_id=?`
	row := s.db.QueryRowContext(ctx, q, clientID)

	var cur model.Cursor
	var seq sql.NullInt64
	if err := row.Scan(&cur.ClientID, &seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	cur.LastSeq = seq.Int64
	return &cur, nil
}

// ForEachCode scans the servable codes in insertion order, skipping flagged
// rows. Used at startup to warm the in-memory mirror.
func (s *Store) ForEachCode(ctx context.Context, fn func(code string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `SELECT code FROM storage WHERE fr=0 AND other=0 ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("scan codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return err
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	return rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
