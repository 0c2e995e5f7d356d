// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/mkrivosheev/passrelay/internal/model"
)

// CodeStore provides durable access to passcodes and per-client delivery cursors.
type CodeStore interface {
	// InsertCode normalizes and stores a new code. A duplicate insert is a
	// no-op reporting inserted=false.
	InsertCode(ctx context.Context, code string) (inserted bool, err error)

	// DeleteCode removes a code row unconditionally. Idempotent.
	DeleteCode(ctx context.Context, code string) error

	// MarkCode sets the fully-redeemed and other flags. Marking a code that
	// does not exist is a silent no-op.
	MarkCode(ctx context.Context, code string, fullyRedeemed, other bool) error

	// RequestNextCode advances the client's cursor to the next unflagged code
	// and returns it, or errs.ErrNoCode when the walk is exhausted.
	RequestNextCode(ctx context.Context, clientID string) (string, error)

	// GetCode loads one code row, or errs.ErrNotFound.
	GetCode(ctx context.Context, code string) (*model.Code, error)

	// GetCursor loads a client's delivery cursor, or errs.ErrNotFound for a
	// client that has never been served.
	GetCursor(ctx context.Context, clientID string) (*model.Cursor, error)

	// ForEachCode scans the servable (unflagged) codes in insertion order.
	ForEachCode(ctx context.Context, fn func(code string) error) error

	// Close releases the underlying database handle.
	Close() error
}
