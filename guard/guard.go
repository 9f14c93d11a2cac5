// Package guard implements the navigation gatekeeper and the multi-provider
// verdict aggregator.  For every eligible navigation it fans a check out to
// all enabled reputation providers concurrently, redirects the tab to a
// warning page on the first actionable verdict, and accumulates the verdicts
// of slower providers for the blocked counter.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/fcchbjm/webguard/cachestore"
	"github.com/fcchbjm/webguard/provider"
)

// Dispatch timing defaults.
const (
	// DefaultNonPartnerDelay is how long non-partner provider checks are held
	// back when a partner provider is also active, so partner verdicts tend
	// to win the redirect race and simultaneous outbound load is reduced.
	DefaultNonPartnerDelay = 200 * time.Millisecond

	// DefaultSettleDelay is how long badge and counter updates are delayed
	// after an additional blocking verdict, letting near-simultaneous
	// verdicts coalesce into one update.
	DefaultSettleDelay = 500 * time.Millisecond
)

// DefaultNewTabURL is the neutral page a tab is sent to when navigating it to
// the warning page fails.
const DefaultNewTabURL = "about:newtab"

// Config is the guard configuration.
type Config struct {
	// Logger is used for logging the operation of the guard.  It must not be
	// nil.
	Logger *slog.Logger

	// Clock is used to get the current time.  It must not be nil.
	Clock timeutil.Clock

	// Platform is the host platform adapter.  It must not be nil.
	Platform Platform

	// Cache is the shared verdict cache.  It must not be nil.
	Cache *cachestore.Store

	// Messages is the in-process bus the guard publishes counter updates to.
	// It must not be nil.
	Messages *Bus

	// Providers is the full provider set.  It must not be empty.
	Providers []provider.Provider

	// DisabledProviders lists cache names of providers disabled at startup.
	DisabledProviders []string

	// WarningPageBase is the origin serving the warning page.  It must not be
	// empty.
	WarningPageBase string

	// NewTabURL is the fallback page for failed redirects.  Empty means
	// [DefaultNewTabURL].
	NewTabURL string

	// NonPartnerDelay holds back non-partner checks when a partner provider
	// is active.  Zero means [DefaultNonPartnerDelay]; negative disables the
	// delay.
	NonPartnerDelay time.Duration

	// SettleDelay postpones badge and counter updates.  Zero means
	// [DefaultSettleDelay].
	SettleDelay time.Duration

	// Notify enables user notifications on blocked navigations.
	Notify bool

	// CheckSubFrames enables checking non-main-frame navigations.
	CheckSubFrames bool
}

// Guard is the navigation gatekeeper.  It must be created with [New].
type Guard struct {
	logger    *slog.Logger
	clock     timeutil.Clock
	platform  Platform
	cache     *cachestore.Store
	messages  *Bus
	sessions  *sessionRegistry
	settings  *settings
	stats     *Stats
	providers []provider.Provider

	warningBase string
	newTabURL   string

	nonPartnerDelay time.Duration
	settleDelay     time.Duration
}

// New creates a new guard.  c must not be nil and must be valid.
func New(c *Config) (g *Guard, err error) {
	err = errors.Join(
		validate.NotNil("c.Logger", c.Logger),
		validate.NotNilInterface("c.Clock", c.Clock),
		validate.NotNilInterface("c.Platform", c.Platform),
		validate.NotNil("c.Cache", c.Cache),
		validate.NotNil("c.Messages", c.Messages),
		validate.NotEmptySlice("c.Providers", c.Providers),
		validate.NotEmpty("c.WarningPageBase", c.WarningPageBase),
	)
	if err != nil {
		return nil, fmt.Errorf("guard config: %w", err)
	}

	newTabURL := c.NewTabURL
	if newTabURL == "" {
		newTabURL = DefaultNewTabURL
	}

	nonPartnerDelay := c.NonPartnerDelay
	switch {
	case nonPartnerDelay == 0:
		nonPartnerDelay = DefaultNonPartnerDelay
	case nonPartnerDelay < 0:
		nonPartnerDelay = 0
	}

	settleDelay := c.SettleDelay
	if settleDelay == 0 {
		settleDelay = DefaultSettleDelay
	}

	g = &Guard{
		logger:          c.Logger,
		clock:           c.Clock,
		platform:        c.Platform,
		cache:           c.Cache,
		messages:        c.Messages,
		sessions:        newSessionRegistry(),
		settings:        newSettings(c.Providers, c.DisabledProviders, c.Notify, c.CheckSubFrames),
		stats:           NewStats(),
		providers:       c.Providers,
		warningBase:     c.WarningPageBase,
		newTabURL:       newTabURL,
		nonPartnerDelay: nonPartnerDelay,
		settleDelay:     settleDelay,
	}

	return g, nil
}

// Shutdown cancels every in-flight check.
func (g *Guard) Shutdown(ctx context.Context) (err error) {
	g.sessions.purge(ctx)

	return nil
}

// Stats returns the guard's provider latency statistics.
func (g *Guard) Stats() (s *Stats) { return g.stats }

// Providers returns the guard's provider set.
func (g *Guard) Providers() (providers []provider.Provider) { return g.providers }
