package guard

import (
	"context"
	"net/url"
	"strings"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fcchbjm/webguard/cachestore"
	"github.com/fcchbjm/webguard/internal/urlutil"
)

// filterNavigation applies the eligibility filter chain to nav and returns
// the canonical URL and hostname to check.  ok is false when the navigation
// must be let through without any provider check; that path is side-effect
// free.
func (g *Guard) filterNavigation(
	ctx context.Context,
	nav Navigation,
) (checkURL, host string, ok bool) {
	rawURL := nav.URL

	// Unwrap one level of blob wrapping; the inner resource must itself be a
	// web URL.
	if inner, isBlob := strings.CutPrefix(rawURL, "blob:"); isBlob {
		rawURL = inner
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}

	if nav.FrameID != 0 && !g.settings.subFramesEnabled() {
		return "", "", false
	}

	if !urlutil.IsWellFormedHost(u.Hostname()) {
		return "", "", false
	}

	host = urlutil.NormalizeHost(u.Hostname())

	// Private and local destinations are excluded before any network call.
	if urlutil.IsInternalHost(host) {
		return "", "", false
	}

	if g.cache.MatchesAllowedPattern(ctx, host, cachestore.GlobalNamespace) {
		return "", "", false
	}

	checkURL, err = urlutil.NormalizeURL(rawURL)
	if err != nil {
		g.logger.DebugContext(ctx, "normalizing navigation url",
			"url", rawURL,
			slogutil.KeyError, err,
		)

		return "", "", false
	}

	return checkURL, host, true
}
