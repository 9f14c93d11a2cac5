package guard

import (
	"context"
	"sync"

	"github.com/bluele/gcache"
	"github.com/fcchbjm/webguard/verdict"
)

// sessionCacheSize bounds the number of tracked tab sessions, so a missed
// tab-removal event cannot leak session state forever.
const sessionCacheSize = 4096

// tabSession is the per-tab state of the current navigation.  Its fields are
// protected by the owning registry's mutex; ctx and cancel are set once at
// creation and safe to read without it.
type tabSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	// frameZeroURL is the canonical top-level URL of the tab's current
	// navigation, used as the continue-URL of the warning page.
	frameZeroURL string

	// origins are the additional blocking origins observed after the first
	// actionable verdict.
	origins []verdict.Origin

	// blocked latches after the first actionable verdict so that later
	// verdicts do not redirect the tab again.
	blocked bool
}

// sessionRegistry tracks tab sessions in a bounded LRU cache.
type sessionRegistry struct {
	// mu protects the cached sessions' fields.
	mu *sync.Mutex

	cache gcache.Cache
}

// newSessionRegistry returns an empty session registry.
func newSessionRegistry() (r *sessionRegistry) {
	return &sessionRegistry{
		mu:    &sync.Mutex{},
		cache: gcache.New(sessionCacheSize).LRU().Build(),
	}
}

// get returns the tab's session or nil.  r.mu must be held.
func (r *sessionRegistry) get(tabID int64) (sess *tabSession) {
	v, err := r.cache.GetIFPresent(tabID)
	if err != nil {
		// Either gcache.KeyNotFoundError or an expired entry.
		return nil
	}

	return v.(*tabSession)
}

// reset cancels the tab's previous session, if any, and installs a fresh one
// for the navigation to frameZeroURL.  The session's context descends from
// ctx's values but not its cancellation, since the session outlives the
// navigation event that created it.  r.mu must be held.
func (r *sessionRegistry) reset(
	ctx context.Context,
	tabID int64,
	frameZeroURL string,
) (sess *tabSession) {
	if prev := r.get(tabID); prev != nil {
		prev.cancel()
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess = &tabSession{
		ctx:          sessCtx,
		cancel:       cancel,
		frameZeroURL: frameZeroURL,
	}

	// The only Set failure modes are serialization hooks, which aren't used.
	_ = r.cache.Set(tabID, sess)

	return sess
}

// ensure returns the tab's session, creating one for frameZeroURL if none
// exists.  r.mu must be held.
func (r *sessionRegistry) ensure(
	ctx context.Context,
	tabID int64,
	frameZeroURL string,
) (sess *tabSession) {
	sess = r.get(tabID)
	if sess == nil {
		sess = r.reset(ctx, tabID, frameZeroURL)
	}

	return sess
}

// remove cancels and drops the tab's session, if any.  r.mu must be held.
func (r *sessionRegistry) remove(tabID int64) {
	if sess := r.get(tabID); sess != nil {
		sess.cancel()
		r.cache.Remove(tabID)
	}
}

// purge cancels and drops every session.
func (r *sessionRegistry) purge(_ context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.cache.Keys(true) {
		r.remove(key.(int64))
	}
}
