package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/fcchbjm/webguard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests and contexts.
const testTimeout = 1 * time.Second

func TestBolt(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	s, err := storage.NewBolt(filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, s.Close)

	data, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.Store(ctx, "allowed", []byte(`{"a":1}`)))

	data, err = s.Load(ctx, "allowed")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), data)

	// Overwrite.
	require.NoError(t, s.Store(ctx, "allowed", []byte(`{"a":2}`)))

	data, err = s.Load(ctx, "allowed")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), data)
}

func TestSession(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	s := storage.NewSession()

	data, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.Store(ctx, "processing", []byte("x")))

	data, err = s.Load(ctx, "processing")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}
