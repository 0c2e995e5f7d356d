package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractCodes(t *testing.T) {
	t.Parallel()
	text := "AbCdE123\n\n# comment line\n  spaced77  \nbad code\nx\nthiscodeiswaytoolongtomatch\n"

	got := ExtractCodes(text, zap.NewNop())
	require.Equal(t, []string{"abcde123", "spaced77"}, got)
}

func TestValid(t *testing.T) {
	t.Parallel()
	require.True(t, Valid("abcde"))
	require.True(t, Valid("under_score_ok"))
	require.False(t, Valid("abcd"))             // too short
	require.False(t, Valid("has space"))        // not word characters
	require.False(t, Valid("dash-inside12345")) // '-' is not a word character
}

type recordingPutter struct{ codes []string }

func (p *recordingPutter) PutCode(_ context.Context, code string) (string, error) {
	p.codes = append(p.codes, code)
	return code, nil
}

func TestSeedFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "passcode.txt")
	require.NoError(t, os.WriteFile(path, []byte("first1\n# skip me\nsecond2\n"), 0o600))

	p := &recordingPutter{}
	n, err := SeedFromFile(context.Background(), path, p, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"first1", "second2"}, p.codes)
}

func TestSeedFromFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := SeedFromFile(context.Background(), filepath.Join(t.TempDir(), "absent.txt"), &recordingPutter{}, zap.NewNop())
	require.Error(t, err)
}
