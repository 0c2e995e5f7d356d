package limiter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkrivosheev/passrelay/internal/migrate"
	"github.com/mkrivosheev/passrelay/internal/repository/sqlite"
)

func newLimiter(t *testing.T) *SQLite {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, migrate.Up(context.Background(), s.DB()))
	return NewSQLite(s.DB(), time.Minute, 3, 5*time.Minute)
}

func TestLimiter_BlocksAfterMaxFails(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()
	ip := HashIP("203.0.113.7")

	ok, _, err := l.Allow(ctx, ip)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}

	blocked, retry, err := l.Failure(ctx, ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 5*time.Minute, retry)

	ok, retry, err = l.Allow(ctx, ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retry, time.Duration(0))
}

func TestLimiter_SuccessResets(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()
	ip := HashIP("203.0.113.8")

	for i := 0; i < 2; i++ {
		_, _, err := l.Failure(ctx, ip)
		require.NoError(t, err)
	}
	require.NoError(t, l.Success(ctx, ip))

	// counter starts over after a successful register
	blocked, _, err := l.Failure(ctx, ip)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestLimiter_WindowExpiryResetsCounter(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()
	ip := HashIP("203.0.113.9")

	base := time.Now()
	l.now = func() time.Time { return base }
	for i := 0; i < 2; i++ {
		_, _, err := l.Failure(ctx, ip)
		require.NoError(t, err)
	}

	// a failure after the window restarts the count instead of blocking
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	blocked, _, err := l.Failure(ctx, ip)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestLimiter_PeersAreIndependent(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := l.Failure(ctx, HashIP("198.51.100.1"))
		require.NoError(t, err)
	}

	ok, _, err := l.Allow(ctx, HashIP("198.51.100.2"))
	require.NoError(t, err)
	require.True(t, ok)
}
