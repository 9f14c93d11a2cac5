package guard

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fcchbjm/webguard/verdict"
)

// warningPagePath is the path of the warning page under the warning-page
// origin.
const warningPagePath = "/pages/warning/WarningPage.html"

// OnNavigation handles one navigation event.  Ineligible navigations are let
// through without side effects; eligible ones are dispatched to every enabled
// provider, and the first actionable verdict redirects the tab to the warning
// page.
func (g *Guard) OnNavigation(ctx context.Context, nav Navigation) {
	checkURL, host, ok := g.filterNavigation(ctx, nav)
	if !ok {
		return
	}

	g.sessions.mu.Lock()

	var sess *tabSession
	if nav.FrameID == 0 {
		// A new top-level navigation supersedes the tab's previous one:
		// outstanding checks are canceled and their in-flight markers
		// dropped, so late results cannot act on the new page.
		sess = g.sessions.reset(ctx, nav.TabID, checkURL)
		g.cache.RemoveTab(ctx, nav.TabID)
	} else {
		sess = g.sessions.ensure(ctx, nav.TabID, checkURL)
	}

	checkCtx := sess.ctx
	g.sessions.mu.Unlock()

	g.Check(checkCtx, nav.TabID, checkURL, host, func(r verdict.Result) {
		g.onResult(checkCtx, nav.TabID, r)
	})
}

// OnTabRemoved drops the tab's session and in-flight markers after the host
// reports the tab closed.
func (g *Guard) OnTabRemoved(ctx context.Context, tabID int64) {
	g.sessions.mu.Lock()
	g.sessions.remove(tabID)
	g.sessions.mu.Unlock()

	g.cache.RemoveTab(ctx, tabID)
}

// onResult handles one provider verdict for the navigation owning ctx.
func (g *Guard) onResult(ctx context.Context, tabID int64, r verdict.Result) {
	if ctx.Err() != nil {
		// The verdict belongs to a canceled navigation.
		return
	}

	if !r.Type.IsActionable() {
		return
	}

	g.sessions.mu.Lock()

	sess := g.sessions.get(tabID)
	if sess == nil || sess.ctx != ctx {
		g.sessions.mu.Unlock()

		return
	}

	if !sess.blocked {
		sess.blocked = true
		continueURL := sess.frameZeroURL
		g.sessions.mu.Unlock()

		g.block(ctx, tabID, r, continueURL)

		return
	}

	sess.origins = append(sess.origins, r.Origin)
	g.sessions.mu.Unlock()

	// Let near-simultaneous verdicts coalesce before updating the badge and
	// broadcasting the counter.
	time.AfterFunc(g.settleDelay, func() {
		g.broadcastCount(ctx, tabID)
	})
}

// block redirects the tab to the warning page for r and optionally notifies
// the user.
func (g *Guard) block(ctx context.Context, tabID int64, r verdict.Result, continueURL string) {
	if !g.platform.TabExists(ctx, tabID) {
		g.logger.DebugContext(ctx, "tab gone during check", "tab_id", tabID)

		return
	}

	err := g.platform.UpdateTab(ctx, tabID, g.warningURL(r, continueURL))
	if err != nil {
		g.logger.WarnContext(ctx, "redirecting to warning page",
			"tab_id", tabID,
			slogutil.KeyError, err,
		)

		// Don't leave the tab on the blocked page.
		err = g.platform.UpdateTab(ctx, tabID, g.newTabURL)
		if err != nil {
			g.logger.ErrorContext(ctx, "redirecting to fallback page",
				"tab_id", tabID,
				slogutil.KeyError, err,
			)
		}
	}

	g.logger.InfoContext(ctx, "navigation blocked",
		"tab_id", tabID,
		"url", r.URL,
		"result", r.Type,
		"origin", r.Origin,
	)

	if g.settings.notifyEnabled() {
		g.platform.Notify(ctx, "Dangerous website blocked",
			fmt.Sprintf("%s was reported as %s by %s", r.URL, r.Type, r.Origin))
	}
}

// broadcastCount updates the tab's badge and publishes the current blocked
// counter for the tab's warning page.
func (g *Guard) broadcastCount(ctx context.Context, tabID int64) {
	if ctx.Err() != nil {
		return
	}

	g.sessions.mu.Lock()

	sess := g.sessions.get(tabID)
	if sess == nil || sess.ctx != ctx {
		g.sessions.mu.Unlock()

		return
	}

	count := len(sess.origins)
	systems := make([]int, 0, count)
	for _, o := range sess.origins {
		systems = append(systems, int(o))
	}

	g.sessions.mu.Unlock()

	g.platform.SetBadge(ctx, tabID, count)
	g.messages.Publish(ctx, Message{
		Type:    MsgBlockedCounterPong,
		TabID:   tabID,
		Count:   count,
		Systems: systems,
	})
}

// warningURL builds the warning-page URL for r.  All four parameters are
// required by the page.
func (g *Guard) warningURL(r verdict.Result, continueURL string) (u string) {
	q := url.Values{
		"url":  []string{r.URL},
		"curl": []string{continueURL},
		"or":   []string{strconv.Itoa(int(r.Origin))},
		"rs":   []string{strconv.Itoa(int(r.Type))},
	}

	return g.warningBase + warningPagePath + "?" + q.Encode()
}
