package guard

import (
	"context"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fcchbjm/webguard/cachestore"
	"github.com/fcchbjm/webguard/internal/urlutil"
)

// Message types of the in-process bus.
const (
	// MsgBlockedCounterPing asks for the current blocked counter of a tab;
	// the guard answers with a [MsgBlockedCounterPong] carrying the count and
	// the flagging systems.
	MsgBlockedCounterPing = "BLOCKED_COUNTER_PING"
	MsgBlockedCounterPong = "BLOCKED_COUNTER_PONG"

	// MsgContinueToWebsite through MsgAllowWebsite are privileged: they are
	// accepted only from the warning page's own origin.
	MsgContinueToWebsite = "CONTINUE_TO_WEBSITE"
	MsgContinueToSafety  = "CONTINUE_TO_SAFETY"
	MsgReportWebsite     = "REPORT_WEBSITE"
	MsgAllowWebsite      = "ALLOW_WEBSITE"

	// toggledSuffix terminates per-provider settings-change message types,
	// for example "QUAD9_TOGGLED".
	toggledSuffix = "_TOGGLED"
)

// Message is one in-process bus message.
type Message struct {
	// Type is one of the message-type constants or a provider toggle.
	Type string `json:"type"`

	// Origin is the sender's origin, checked for privileged messages.
	Origin string `json:"origin,omitempty"`

	// URL is the URL a privileged message acts on.
	URL string `json:"url,omitempty"`

	// Systems are the origins counted by a [MsgBlockedCounterPong].
	Systems []int `json:"systems,omitempty"`

	// TabID is the tab the message concerns.
	TabID int64 `json:"tab_id"`

	// Count is the blocked counter of a [MsgBlockedCounterPong].
	Count int `json:"count"`

	// Enabled is the new state carried by a provider toggle.
	Enabled bool `json:"enabled"`
}

// Bus is a minimal publish-subscribe hub for guard messages.  Handlers run
// synchronously on the publisher's goroutine.
type Bus struct {
	// mu protects handlers.
	mu *sync.Mutex

	handlers []func(ctx context.Context, msg Message)
}

// NewBus returns an empty bus.
func NewBus() (b *Bus) {
	return &Bus{
		mu: &sync.Mutex{},
	}
}

// Subscribe registers h for every published message.
func (b *Bus) Subscribe(h func(ctx context.Context, msg Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, h)
}

// Publish delivers msg to every subscribed handler.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	b.mu.Lock()
	handlers := b.handlers
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

// HandleMessage processes one inbound bus message.  Messages with an
// unrecognized type are logged and dropped.
func (g *Guard) HandleMessage(ctx context.Context, msg Message) {
	switch msg.Type {
	case MsgBlockedCounterPing:
		g.broadcastCount(g.sessionCtx(msg.TabID), msg.TabID)
	case MsgContinueToWebsite:
		if g.checkPrivileged(ctx, msg) {
			g.continueToWebsite(ctx, msg)
		}
	case MsgContinueToSafety:
		if g.checkPrivileged(ctx, msg) {
			g.redirect(ctx, msg.TabID, g.newTabURL)
		}
	case MsgReportWebsite:
		if g.checkPrivileged(ctx, msg) {
			g.logger.InfoContext(ctx, "website reported", "url", msg.URL)
		}
	case MsgAllowWebsite:
		if g.checkPrivileged(ctx, msg) {
			g.allowWebsite(ctx, msg)
		}
	default:
		if name := providerFromToggle(msg.Type); name != "" {
			g.toggleProvider(ctx, name, msg.Enabled)

			return
		}

		g.logger.InfoContext(ctx, "dropping unknown message", "type", msg.Type)
	}
}

// sessionCtx returns the context of the tab's current session, or a
// background context when the tab has none.
func (g *Guard) sessionCtx(tabID int64) (ctx context.Context) {
	g.sessions.mu.Lock()
	defer g.sessions.mu.Unlock()

	sess := g.sessions.get(tabID)
	if sess == nil {
		return context.Background()
	}

	return sess.ctx
}

// checkPrivileged reports whether msg comes from the warning page's own
// origin.  Rejected messages are logged.
func (g *Guard) checkPrivileged(ctx context.Context, msg Message) (ok bool) {
	if msg.Origin == g.warningBase {
		return true
	}

	g.logger.WarnContext(ctx, "dropping privileged message from foreign origin",
		"type", msg.Type,
		"origin", msg.Origin,
	)

	return false
}

// continueToWebsite lets the tab proceed to the blocked URL for the duration
// of the configured cache TTL.
func (g *Guard) continueToWebsite(ctx context.Context, msg Message) {
	g.cache.AddAllowed(ctx, msg.URL, cachestore.GlobalNamespace, 0)
	g.redirect(ctx, msg.TabID, msg.URL)
}

// allowWebsite permanently allows the blocked URL's hostname and all of its
// subdomains, then lets the tab proceed.
func (g *Guard) allowWebsite(ctx context.Context, msg Message) {
	norm, err := urlutil.NormalizeURL(msg.URL)
	if err != nil {
		g.logger.WarnContext(ctx, "allowing website", "url", msg.URL, slogutil.KeyError, err)

		return
	}

	host := urlutil.HostOf(norm)
	if host != "" {
		g.cache.AddAllowedPattern(ctx, "*."+host, cachestore.GlobalNamespace, 0)
	}

	g.redirect(ctx, msg.TabID, msg.URL)
}

// redirect navigates the tab to u, logging failures.
func (g *Guard) redirect(ctx context.Context, tabID int64, u string) {
	err := g.platform.UpdateTab(ctx, tabID, u)
	if err != nil {
		g.logger.WarnContext(ctx, "redirecting tab", "tab_id", tabID, slogutil.KeyError, err)
	}
}

// toggleProvider applies a provider settings-change message.
func (g *Guard) toggleProvider(ctx context.Context, name string, enabled bool) {
	if !g.settings.setProviderEnabled(name, enabled) {
		g.logger.InfoContext(ctx, "dropping toggle for unknown provider", "provider", name)

		return
	}

	g.logger.InfoContext(ctx, "provider toggled", "provider", name, "enabled", enabled)
}
