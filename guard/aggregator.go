package guard

import (
	"context"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fcchbjm/webguard/provider"
	"github.com/fcchbjm/webguard/verdict"
)

// Check dispatches rawURL to every enabled provider concurrently and delivers
// each provider's result to cb as soon as it is ready.  Results arrive in
// completion order, which is deliberately unspecified between providers.  cb
// is never invoked after ctx is canceled, except for cache-served results
// already in flight.
func (g *Guard) Check(
	ctx context.Context,
	tabID int64,
	rawURL string,
	host string,
	cb func(r verdict.Result),
) {
	hasPartner := false
	for _, p := range g.providers {
		if p.Partner() && g.settings.providerEnabled(p.CacheName()) {
			hasPartner = true

			break
		}
	}

	for _, p := range g.providers {
		if !g.settings.providerEnabled(p.CacheName()) {
			continue
		}

		delay := time.Duration(0)
		if hasPartner && !p.Partner() {
			delay = g.nonPartnerDelay
		}

		go g.checkProvider(ctx, p, tabID, rawURL, host, delay, cb)
	}
}

// checkProvider runs one provider's check protocol: cache lookups, the
// in-flight marker, the network exchange, classification, and the cache
// write-through.  It delivers at most one result to cb.
func (g *Guard) checkProvider(
	ctx context.Context,
	p provider.Provider,
	tabID int64,
	rawURL string,
	host string,
	delay time.Duration,
	cb func(r verdict.Result),
) {
	ns := p.CacheName()
	o := p.Origin()

	// Cache lookup order is fixed: allowed, then blocked, then processing.
	if g.cache.IsAllowed(ctx, rawURL, ns) {
		cb(verdict.Result{URL: rawURL, Type: verdict.ResultKnownSafe, Origin: o})

		return
	}

	if rt, ok := g.cache.BlockedResult(ctx, rawURL, ns); ok {
		cb(verdict.Result{URL: rawURL, Type: rt, Origin: o})

		return
	}

	if !g.cache.MarkProcessing(ctx, rawURL, ns, tabID) {
		// An identical check is already in flight, so don't issue a second
		// network request.
		cb(verdict.Result{URL: rawURL, Type: verdict.ResultWaiting, Origin: o})

		return
	}

	if delay > 0 && !g.sleep(ctx, delay) {
		g.cache.RemoveProcessing(context.WithoutCancel(ctx), rawURL, ns)

		return
	}

	start := g.clock.Now()
	rt, err := p.Check(ctx, host, rawURL)
	g.stats.Observe(ns, g.clock.Now().Sub(start))

	if err != nil {
		g.logger.DebugContext(ctx, "provider check", "provider", ns, slogutil.KeyError, err)
		rt = verdict.ResultFailed
	}

	if ctx.Err() != nil {
		// The navigation was canceled while the request was in flight.  Drop
		// the result without caching it; only the marker is cleaned up.
		g.cache.RemoveProcessing(context.WithoutCancel(ctx), rawURL, ns)

		return
	}

	switch {
	case rt == verdict.ResultAllowed:
		g.cache.AddAllowed(ctx, rawURL, ns, 0)
	case rt.IsActionable():
		g.cache.AddBlocked(ctx, rawURL, ns, rt)
	default:
		// Failed results are never cached.
	}

	g.cache.RemoveProcessing(ctx, rawURL, ns)

	cb(verdict.Result{URL: rawURL, Type: rt, Origin: o})
}

// sleep blocks for d and reports whether ctx survived the wait.
func (g *Guard) sleep(ctx context.Context, d time.Duration) (ok bool) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
