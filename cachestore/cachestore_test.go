package cachestore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/fcchbjm/webguard/cachestore"
	"github.com/fcchbjm/webguard/internal/guardtest"
	"github.com/fcchbjm/webguard/internal/storage"
	"github.com/fcchbjm/webguard/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests and contexts.
const testTimeout = 1 * time.Second

// testNS is the provider namespace used throughout the tests.
const testNS = "test_provider"

// newTestStore returns a started cache store backed by in-memory stores and
// the given clock.
func newTestStore(t *testing.T, clock timeutil.Clock) (s *cachestore.Store) {
	t.Helper()

	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	s, err := cachestore.New(&cachestore.Config{
		Logger:   slogutil.NewDiscardLogger(),
		Clock:    clock,
		Durable:  storage.NewSession(),
		Session:  storage.NewSession(),
		Debounce: 1 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, s.Start(ctx))
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return s.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	return s
}

func TestStore_allowed(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := &faketime.Clock{
		OnNow: func() (n time.Time) { return now },
	}

	s := newTestStore(t, clock)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const u = "https://example.com/page"

	assert.False(t, s.IsAllowed(ctx, u, testNS))

	s.AddAllowed(ctx, u, testNS, time.Hour)
	assert.True(t, s.IsAllowed(ctx, u, testNS))

	// The key is the normalized URL, so equivalent spellings hit.
	assert.True(t, s.IsAllowed(ctx, "www.example.com/page/", testNS))

	// Other namespaces are unaffected.
	assert.False(t, s.IsAllowed(ctx, u, "other"))

	// Expire the entry.
	now = now.Add(2 * time.Hour)
	assert.False(t, s.IsAllowed(ctx, u, testNS))
}

func TestStore_allowedIdempotence(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := &faketime.Clock{
		OnNow: func() (n time.Time) { return now },
	}

	s := newTestStore(t, clock)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const u = "https://example.com/"

	s.AddAllowed(ctx, u, testNS, time.Hour)
	s.AddAllowed(ctx, u, testNS, 3*time.Hour)

	// The second add must have replaced the expiry with the later one.
	now = now.Add(2 * time.Hour)
	assert.True(t, s.IsAllowed(ctx, u, testNS))

	now = now.Add(2 * time.Hour)
	assert.False(t, s.IsAllowed(ctx, u, testNS))
}

func TestStore_allowedPatterns(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	// Zero TTL means the pattern never expires.
	s.AddAllowedPattern(ctx, "*.example.com", cachestore.GlobalNamespace, 0)
	s.AddAllowedPattern(ctx, "exact.example.org", cachestore.GlobalNamespace, 0)

	assert.True(t, s.MatchesAllowedPattern(ctx, "example.com", cachestore.GlobalNamespace))
	assert.True(t, s.MatchesAllowedPattern(ctx, "sub.example.com", cachestore.GlobalNamespace))
	assert.True(t, s.MatchesAllowedPattern(ctx, "a.b.example.com", cachestore.GlobalNamespace))
	assert.True(t, s.MatchesAllowedPattern(ctx, "www.example.com", cachestore.GlobalNamespace))
	assert.True(t, s.MatchesAllowedPattern(ctx, "exact.example.org", cachestore.GlobalNamespace))

	// Suffix match, not substring match.
	assert.False(t, s.MatchesAllowedPattern(ctx, "badexample.com", cachestore.GlobalNamespace))
	assert.False(t, s.MatchesAllowedPattern(ctx, "example.com.evil.test", cachestore.GlobalNamespace))
	assert.False(t, s.MatchesAllowedPattern(ctx, "sub.exact.example.org", cachestore.GlobalNamespace))
}

func TestStore_blocked(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const u = "https://bad.example.net/"

	_, ok := s.BlockedResult(ctx, u, testNS)
	assert.False(t, ok)

	s.AddBlocked(ctx, u, testNS, verdict.ResultPhishing)

	rt, ok := s.BlockedResult(ctx, u, testNS)
	require.True(t, ok)
	assert.Equal(t, verdict.ResultPhishing, rt)
	assert.True(t, s.IsBlocked(ctx, u, testNS))

	s.RemoveBlocked(ctx, u, testNS)
	assert.False(t, s.IsBlocked(ctx, u, testNS))
}

func TestStore_processingMutualExclusion(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const (
		u        = "https://example.com/"
		attempts = 100
	)

	// Many concurrent marks for the same URL from different tabs must yield
	// exactly one success.
	marks := make(chan bool, attempts)
	wg := &sync.WaitGroup{}
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			marks <- s.MarkProcessing(ctx, u, testNS, int64(i))
		}()
	}

	wg.Wait()
	close(marks)

	got := 0
	for ok := range marks {
		if ok {
			got++
		}
	}

	assert.Equal(t, 1, got)
	assert.True(t, s.IsProcessing(ctx, u, testNS))

	s.RemoveProcessing(ctx, u, testNS)
	assert.False(t, s.IsProcessing(ctx, u, testNS))

	// After removal the marker can be taken again.
	assert.True(t, s.MarkProcessing(ctx, u, testNS, 1))
}

func TestStore_processingExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := &faketime.Clock{
		OnNow: func() (n time.Time) { return now },
	}

	s := newTestStore(t, clock)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	const u = "https://example.com/"

	require.True(t, s.MarkProcessing(ctx, u, testNS, 1))
	assert.False(t, s.MarkProcessing(ctx, u, testNS, 2))

	// The marker expires after the fixed processing TTL even though nobody
	// removed it, so a wedged request cannot block future checks.
	now = now.Add(cachestore.ProcessingTTL + time.Second)
	assert.False(t, s.IsProcessing(ctx, u, testNS))
	assert.True(t, s.MarkProcessing(ctx, u, testNS, 2))
}

func TestStore_removeTab(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	require.True(t, s.MarkProcessing(ctx, "https://a.example.com/", testNS, 1))
	require.True(t, s.MarkProcessing(ctx, "https://b.example.com/", testNS, 1))
	require.True(t, s.MarkProcessing(ctx, "https://c.example.com/", "other", 1))
	require.True(t, s.MarkProcessing(ctx, "https://d.example.com/", testNS, 2))

	s.RemoveTab(ctx, 1)

	assert.False(t, s.IsProcessing(ctx, "https://a.example.com/", testNS))
	assert.False(t, s.IsProcessing(ctx, "https://b.example.com/", testNS))
	assert.False(t, s.IsProcessing(ctx, "https://c.example.com/", "other"))

	// Another tab's marker survives.
	assert.True(t, s.IsProcessing(ctx, "https://d.example.com/", testNS))
}

func TestStore_persistence(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	durable := storage.NewSession()

	newStore := func(t *testing.T) (s *cachestore.Store) {
		t.Helper()

		s, err := cachestore.New(&cachestore.Config{
			Logger:   slogutil.NewDiscardLogger(),
			Clock:    timeutil.SystemClock{},
			Durable:  durable,
			Session:  storage.NewSession(),
			Debounce: 1 * time.Millisecond,
		})
		require.NoError(t, err)
		require.NoError(t, s.Start(ctx))

		return s
	}

	s := newStore(t)
	s.AddAllowed(ctx, "https://example.com/", testNS, time.Hour)
	s.AddBlocked(ctx, "https://bad.example.net/", testNS, verdict.ResultMalicious)
	require.NoError(t, s.Shutdown(ctx))

	// A fresh store over the same durable backend sees the entries.
	s = newStore(t)
	testutil.CleanupAndRequireSuccess(t, func() (err error) { return s.Shutdown(ctx) })

	assert.True(t, s.IsAllowed(ctx, "https://example.com/", testNS))

	rt, ok := s.BlockedResult(ctx, "https://bad.example.net/", testNS)
	require.True(t, ok)
	assert.Equal(t, verdict.ResultMalicious, rt)
}

func TestStore_storageErrorsDegrade(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	// A backend that fails every call must not break the store.
	failing := &guardtest.Store{
		OnLoad: func(_ context.Context, _ string) (data []byte, err error) {
			return nil, assert.AnError
		},
		OnStore: func(_ context.Context, _ string, _ []byte) (err error) {
			return assert.AnError
		},
	}

	s, err := cachestore.New(&cachestore.Config{
		Logger:   slogutil.NewDiscardLogger(),
		Clock:    timeutil.SystemClock{},
		Durable:  failing,
		Session:  storage.NewSession(),
		Debounce: 1 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	testutil.CleanupAndRequireSuccess(t, func() (err error) { return s.Shutdown(ctx) })

	s.AddAllowed(ctx, "https://example.com/", testNS, time.Hour)
	assert.True(t, s.IsAllowed(ctx, "https://example.com/", testNS))
}

func TestStore_corruptBlobDegrade(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	durable := storage.NewSession()
	require.NoError(t, durable.Store(ctx, "cache_allowed", []byte("not json")))

	s, err := cachestore.New(&cachestore.Config{
		Logger:  slogutil.NewDiscardLogger(),
		Clock:   timeutil.SystemClock{},
		Durable: durable,
		Session: storage.NewSession(),
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	testutil.CleanupAndRequireSuccess(t, func() (err error) { return s.Shutdown(ctx) })

	// The corrupt blob degrades to an empty tier, a cache miss.
	assert.False(t, s.IsAllowed(ctx, "https://example.com/", testNS))
}
