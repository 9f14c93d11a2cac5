package guard

import "context"

// Platform is the host platform boundary: navigation-event delivery is the
// host's job, and these are the operations the guard needs back from it.  The
// guard never branches on the host's identity; the daemon wires a concrete
// adapter here.
type Platform interface {
	// UpdateTab navigates the tab to u.
	UpdateTab(ctx context.Context, tabID int64, u string) (err error)

	// TabExists reports whether the tab is still open.
	TabExists(ctx context.Context, tabID int64) (ok bool)

	// SetBadge shows count on the tab's action badge.
	SetBadge(ctx context.Context, tabID int64, count int)

	// Notify shows a user notification.
	Notify(ctx context.Context, title, text string)
}

// Navigation is one navigation event delivered by the host platform.
type Navigation struct {
	// URL is the target of the navigation.
	URL string

	// TransitionType describes how the navigation was initiated, for example
	// "link" or "typed".
	TransitionType string

	// TransitionQualifiers carries additional transition attributes.
	TransitionQualifiers []string

	// TabID identifies the navigating tab.
	TabID int64

	// FrameID is zero for main-frame navigations.
	FrameID int64
}
