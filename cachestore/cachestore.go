// Package cachestore implements the three-tier verdict cache shared by all
// reputation providers: allowed, blocked, and processing entries, partitioned
// per provider namespace, with expiration, debounced durable persistence, and
// tab-scoped cleanup of in-flight markers.
//
// All reads and writes are synchronous against an in-memory mirror; durable
// writes are coalesced and happen in the background.  Storage failures degrade
// to cache misses and are never returned to callers.
package cachestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/fcchbjm/webguard/internal/storage"
	"github.com/fcchbjm/webguard/internal/urlutil"
	"github.com/fcchbjm/webguard/verdict"
)

// GlobalNamespace is the provider-independent namespace used for user-approved
// allow patterns.
const GlobalNamespace = "global"

// Timing defaults.
const (
	// DefaultTTL is the default lifetime of allowed and blocked entries.
	DefaultTTL = 7 * 24 * time.Hour

	// MinTTL is the enforced floor for the configured entry lifetime.
	MinTTL = time.Minute

	// ProcessingTTL is the fixed lifetime of processing entries.  It bounds
	// the duplicate-request-suppression window and is deliberately independent
	// of the configured cache TTL: a wedged request must not block future
	// checks for the same URL and provider forever.
	ProcessingTTL = time.Minute

	// DefaultDebounce is the default window within which durable writes are
	// coalesced.
	DefaultDebounce = 100 * time.Millisecond

	// DefaultSweepIvl is the default interval of the expired-entry sweep.
	DefaultSweepIvl = time.Minute
)

// Config is the cache store configuration.
type Config struct {
	// Logger is used for logging the operation of the store.  It must not be
	// nil.
	Logger *slog.Logger

	// Clock is used to get the current time.  It must not be nil.
	Clock timeutil.Clock

	// Durable persists the allowed and blocked tiers.  It must not be nil; use
	// [storage.Empty] to disable persistence.
	Durable storage.Store

	// Session persists the processing tier for the lifetime of the process.
	// It must not be nil.
	Session storage.Store

	// TTL is the lifetime of allowed and blocked entries.  Zero means
	// [DefaultTTL]; values below [MinTTL] are raised to it.
	TTL time.Duration

	// Debounce is the durable-write coalescing window.  Zero means
	// [DefaultDebounce].
	Debounce time.Duration

	// SweepIvl is the interval of the background expired-entry sweep.  Zero
	// means [DefaultSweepIvl].
	SweepIvl time.Duration
}

// blockedEntry is the stored form of a blocked-tier entry.
type blockedEntry struct {
	// Expiry is the expiration time in milliseconds since the Unix epoch.
	Expiry int64 `json:"expiry"`

	// Result is the cached classification, so that a cache hit can
	// reconstruct a full verdict without re-querying.
	Result verdict.ResultType `json:"result"`
}

// processingEntry is the stored form of a processing-tier entry.
type processingEntry struct {
	// Expiry is the expiration time in milliseconds since the Unix epoch.
	Expiry int64 `json:"expiry"`

	// TabID is the tab whose navigation started the in-flight check.
	TabID int64 `json:"tab_id"`
}

// Store is the three-tier verdict cache.  It must be created with [New].
type Store struct {
	logger  *slog.Logger
	clock   timeutil.Clock
	durable storage.Store
	session storage.Store

	// mu protects all three tier maps, the dirty flags, and flushTimer.
	mu *sync.Mutex

	// allowed maps namespace to URL key (or "*." pattern) to expiry in Unix
	// milliseconds.  Zero expiry means the entry never expires.
	allowed map[string]map[string]int64

	// blocked maps namespace to URL key to the cached blocking verdict.
	blocked map[string]map[string]blockedEntry

	// processing maps namespace to URL key to the in-flight marker.
	processing map[string]map[string]processingEntry

	// flushTimer fires the pending debounced flush, nil when no flush is
	// scheduled.
	flushTimer *time.Timer

	// done stops the background sweep.
	done chan struct{}

	ttl      time.Duration
	debounce time.Duration
	sweepIvl time.Duration

	// dirtyDurable and dirtySession mark tiers with unflushed mutations.
	dirtyDurable bool
	dirtySession bool
}

// New creates a new cache store.  c must not be nil and must be valid.  Call
// [Store.Start] to load the persisted tiers and start the background sweep.
func New(c *Config) (s *Store, err error) {
	err = errors.Join(
		validate.NotNil("c.Logger", c.Logger),
		validate.NotNilInterface("c.Clock", c.Clock),
		validate.NotNilInterface("c.Durable", c.Durable),
		validate.NotNilInterface("c.Session", c.Session),
	)
	if err != nil {
		return nil, fmt.Errorf("cachestore config: %w", err)
	}

	ttl := c.TTL
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < MinTTL:
		ttl = MinTTL
	}

	s = &Store{
		logger:     c.Logger,
		clock:      c.Clock,
		durable:    c.Durable,
		session:    c.Session,
		mu:         &sync.Mutex{},
		allowed:    map[string]map[string]int64{},
		blocked:    map[string]map[string]blockedEntry{},
		processing: map[string]map[string]processingEntry{},
		done:       make(chan struct{}),
		ttl:        ttl,
		debounce:   c.Debounce,
		sweepIvl:   c.SweepIvl,
	}

	if s.debounce == 0 {
		s.debounce = DefaultDebounce
	}

	if s.sweepIvl == 0 {
		s.sweepIvl = DefaultSweepIvl
	}

	return s, nil
}

// now returns the current time in milliseconds since the Unix epoch.
func (s *Store) now() (ms int64) { return s.clock.Now().UnixMilli() }

// expired reports whether an entry with the given expiry is expired at now.
// Zero expiry never expires.
func expired(expiry, now int64) (ok bool) { return expiry != 0 && expiry <= now }

// urlKey normalizes rawURL into a cache key.  Keys that cannot be normalized
// are reported as empty, which all operations treat as a miss or a no-op.
func (s *Store) urlKey(ctx context.Context, rawURL string) (key string) {
	key, err := urlutil.NormalizeURL(rawURL)
	if err != nil {
		s.logger.DebugContext(ctx, "normalizing cache key", "url", rawURL, slogutil.KeyError, err)

		return ""
	}

	return key
}

// IsAllowed reports whether rawURL has an unexpired allowed entry in ns.
// Expired entries are evicted lazily.
func (s *Store) IsAllowed(ctx context.Context, rawURL, ns string) (ok bool) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.allowed[ns][key]
	if !ok {
		return false
	}

	if expired(expiry, s.now()) {
		delete(s.allowed[ns], key)
		s.scheduleFlushLocked(ctx, false)

		return false
	}

	return true
}

// AddAllowed adds an allowed entry for rawURL to ns.  A non-positive ttl means
// the configured default.  Adding an existing entry replaces its expiry.
func (s *Store) AddAllowed(ctx context.Context, rawURL, ns string, ttl time.Duration) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return
	}

	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setAllowedLocked(ctx, key, ns, s.now()+ttl.Milliseconds())
}

// AddAllowedPattern adds a hostname pattern, either a literal hostname or a
// "*."-prefixed suffix pattern, to the allowed tier of ns.  Zero ttl means the
// entry is permanent, which is how user-approved allows are stored.
func (s *Store) AddAllowedPattern(ctx context.Context, pattern, ns string, ttl time.Duration) {
	var expiry int64
	if ttl > 0 {
		expiry = s.now() + ttl.Milliseconds()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setAllowedLocked(ctx, pattern, ns, expiry)
}

// setAllowedLocked stores an allowed entry.  s.mu must be held.
func (s *Store) setAllowedLocked(ctx context.Context, key, ns string, expiry int64) {
	m := s.allowed[ns]
	if m == nil {
		m = map[string]int64{}
		s.allowed[ns] = m
	}

	m[key] = expiry
	s.scheduleFlushLocked(ctx, false)
}

// MatchesAllowedPattern reports whether host matches any unexpired allowed
// entry of ns, either a literal hostname or a "*."-prefixed suffix pattern.
// "*.example.com" matches "example.com" and any of its subdomains, but not
// "badexample.com".
func (s *Store) MatchesAllowedPattern(ctx context.Context, host, ns string) (ok bool) {
	host = urlutil.NormalizeHost(host)
	if host == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for pat, expiry := range s.allowed[ns] {
		if expired(expiry, now) {
			continue
		}

		if matchPattern(pat, host) {
			return true
		}
	}

	return false
}

// matchPattern reports whether host matches pat.
func matchPattern(pat, host string) (ok bool) {
	if len(pat) > 2 && pat[:2] == "*." {
		base := pat[2:]

		return host == base || hasDomainSuffix(host, base)
	}

	return pat == host
}

// hasDomainSuffix reports whether host is a subdomain of base.
func hasDomainSuffix(host, base string) (ok bool) {
	return len(host) > len(base)+1 &&
		host[len(host)-len(base):] == base &&
		host[len(host)-len(base)-1] == '.'
}

// IsBlocked reports whether rawURL has an unexpired blocked entry in ns.
func (s *Store) IsBlocked(ctx context.Context, rawURL, ns string) (ok bool) {
	_, ok = s.BlockedResult(ctx, rawURL, ns)

	return ok
}

// BlockedResult returns the cached blocking classification for rawURL in ns.
func (s *Store) BlockedResult(
	ctx context.Context,
	rawURL string,
	ns string,
) (rt verdict.ResultType, ok bool) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return verdict.ResultFailed, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.blocked[ns][key]
	if !ok {
		return verdict.ResultFailed, false
	}

	if expired(ent.Expiry, s.now()) {
		delete(s.blocked[ns], key)
		s.scheduleFlushLocked(ctx, false)

		return verdict.ResultFailed, false
	}

	return ent.Result, true
}

// AddBlocked caches the blocking classification rt for rawURL in ns.
func (s *Store) AddBlocked(ctx context.Context, rawURL, ns string, rt verdict.ResultType) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.blocked[ns]
	if m == nil {
		m = map[string]blockedEntry{}
		s.blocked[ns] = m
	}

	m[key] = blockedEntry{Expiry: s.now() + s.ttl.Milliseconds(), Result: rt}
	s.scheduleFlushLocked(ctx, false)
}

// RemoveBlocked drops the blocked entry for rawURL from ns, if any.
func (s *Store) RemoveBlocked(ctx context.Context, rawURL, ns string) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocked[ns][key]; ok {
		delete(s.blocked[ns], key)
		s.scheduleFlushLocked(ctx, false)
	}
}

// MarkProcessing atomically checks for and creates the in-flight marker for
// rawURL in ns.  It returns false if an unexpired marker already exists, in
// which case the caller must synthesize a waiting verdict instead of issuing a
// second network request.
func (s *Store) MarkProcessing(ctx context.Context, rawURL, ns string, tabID int64) (ok bool) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if ent, exists := s.processing[ns][key]; exists && !expired(ent.Expiry, now) {
		return false
	}

	m := s.processing[ns]
	if m == nil {
		m = map[string]processingEntry{}
		s.processing[ns] = m
	}

	m[key] = processingEntry{Expiry: now + ProcessingTTL.Milliseconds(), TabID: tabID}
	s.scheduleFlushLocked(ctx, true)

	return true
}

// IsProcessing reports whether an unexpired in-flight marker exists for rawURL
// in ns.
func (s *Store) IsProcessing(ctx context.Context, rawURL, ns string) (ok bool) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.processing[ns][key]

	return ok && !expired(ent.Expiry, s.now())
}

// RemoveProcessing drops the in-flight marker for rawURL from ns, if any.
func (s *Store) RemoveProcessing(ctx context.Context, rawURL, ns string) {
	key := s.urlKey(ctx, rawURL)
	if key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processing[ns][key]; ok {
		delete(s.processing[ns], key)
		s.scheduleFlushLocked(ctx, true)
	}
}

// RemoveTab drops every in-flight marker created for tabID, across all
// namespaces.  It is called on navigation cancel and tab close so that an
// abandoned navigation cannot leave stale markers blocking future checks for
// the same URL from another tab.
func (s *Store) RemoveTab(ctx context.Context, tabID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, m := range s.processing {
		for key, ent := range m {
			if ent.TabID == tabID {
				delete(m, key)
				removed = true
			}
		}
	}

	if removed {
		s.scheduleFlushLocked(ctx, true)
	}
}
