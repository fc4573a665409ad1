package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_SaveAndRead(t *testing.T) {
	base := t.TempDir()
	s := NewLocalFileStorage(base, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "reports/stats.xlsx", []byte("v1")))
	require.NoError(t, s.Save(ctx, "reports/stats.xlsx", []byte("v2")))

	assert.True(t, s.Exists(ctx, "reports/stats.xlsx"))
	assert.False(t, s.Exists(ctx, "reports/other.xlsx"))

	content, err := s.Read(ctx, "reports/stats.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
	assert.Equal(t, filepath.Join(base, "reports", "stats.xlsx"), s.GetFullPath("reports/stats.xlsx"))

	entries, err := os.ReadDir(filepath.Join(base, "reports"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocalFileStorage_RejectsEscapes(t *testing.T) {
	s := NewLocalFileStorage(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	for _, p := range []string{"../outside.xlsx", "reports/../../outside.xlsx", "."} {
		t.Run(p, func(t *testing.T) {
			err := s.Save(ctx, p, []byte("x"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "escapes base directory")
			assert.False(t, s.Exists(ctx, p))
		})
	}
}
