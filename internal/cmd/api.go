package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fcchbjm/webguard/guard"
	"github.com/fcchbjm/webguard/internal/urlutil"
	"github.com/fcchbjm/webguard/verdict"
)

// checkTimeout bounds a synchronous check request across all providers.
const checkTimeout = 15 * time.Second

// errTabNotTracked is returned by [tabActions.UpdateTab] for tabs that have
// not produced a navigation event or have been removed.
const errTabNotTracked errors.Error = "tab is not tracked"

// runAPI starts the HTTP API server.
func runAPI(ctx context.Context, l *slog.Logger, addr string, svc *service) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/navigations", handleNavigations(svc))
	mux.HandleFunc("GET /v1/check", handleCheck(svc))
	mux.HandleFunc("GET /v1/stats", handleStats(svc))
	mux.HandleFunc("POST /v1/messages", handleMessages(svc))
	mux.HandleFunc("GET /v1/tabs/{tabID}/actions", handleTabActions(svc))
	mux.HandleFunc("DELETE /v1/tabs/{tabID}", handleTabRemoved(svc))
	mux.HandleFunc("GET /v1/notifications", handleNotifications(svc))

	l.InfoContext(ctx, "starting api server", "addr", addr)

	srv := &http.Server{
		Addr:        addr,
		ReadTimeout: 60 * time.Second,
		Handler:     mux,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.ErrorContext(ctx, "api server failed to listen", "addr", addr, slogutil.KeyError, err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.ErrorContext(ctx, "api server shutdown failed", slogutil.KeyError, err)
		}
	}()
}

// navigationReq is the body of a navigation event.
type navigationReq struct {
	URL                  string   `json:"url"`
	TransitionType       string   `json:"transition_type"`
	TransitionQualifiers []string `json:"transition_qualifiers"`
	TabID                int64    `json:"tab_id"`
	FrameID              int64    `json:"frame_id"`
}

// handleNavigations returns a handler that feeds navigation events to the
// guard.
func handleNavigations(svc *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &navigationReq{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "bad navigation body", http.StatusBadRequest)

			return
		}

		svc.actions.track(req.TabID)
		svc.guard.OnNavigation(r.Context(), guard.Navigation{
			URL:                  req.URL,
			TransitionType:       req.TransitionType,
			TransitionQualifiers: req.TransitionQualifiers,
			TabID:                req.TabID,
			FrameID:              req.FrameID,
		})

		w.WriteHeader(http.StatusAccepted)
	}
}

// checkResult is one provider verdict of a synchronous check response.
type checkResult struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Origin string `json:"origin"`
}

// handleCheck returns a handler that checks a single URL against all enabled
// providers and responds with the collected verdicts.
func handleCheck(svc *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawURL := r.URL.Query().Get("url")

		norm, err := urlutil.NormalizeURL(rawURL)
		if err != nil {
			http.Error(w, "bad url", http.StatusBadRequest)

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		// Results of disabled providers never arrive, so collecting stops at
		// the timeout rather than at a fixed count.
		n := len(svc.guard.Providers())
		resCh := make(chan verdict.Result, n)
		svc.guard.Check(ctx, 0, norm, urlutil.HostOf(norm), func(res verdict.Result) {
			select {
			case resCh <- res:
			default:
			}
		})

		results := []checkResult{}
	collect:
		for range n {
			select {
			case res := <-resCh:
				results = append(results, checkResult{
					URL:    res.URL,
					Type:   res.Type.String(),
					Origin: res.Origin.String(),
				})
			case <-ctx.Done():
				break collect
			}
		}

		writeJSON(w, results)
	}
}

// handleStats returns a handler that serves provider latency statistics.
func handleStats(svc *service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, svc.guard.Stats().Snapshot())
	}
}

// handleMessages returns a handler that feeds bus messages to the guard.
func handleMessages(svc *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := guard.Message{}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "bad message body", http.StatusBadRequest)

			return
		}

		svc.guard.HandleMessage(r.Context(), msg)

		w.WriteHeader(http.StatusAccepted)
	}
}

// handleTabActions returns a handler that serves and consumes the pending
// actions of a tab.
func handleTabActions(svc *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tabID, err := strconv.ParseInt(r.PathValue("tabID"), 10, 64)
		if err != nil {
			http.Error(w, "bad tab id", http.StatusBadRequest)

			return
		}

		st, ok := svc.actions.pop(tabID)
		if !ok {
			http.Error(w, "unknown tab", http.StatusNotFound)

			return
		}

		writeJSON(w, st)
	}
}

// handleTabRemoved returns a handler that reports a closed tab to the guard.
func handleTabRemoved(svc *service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tabID, err := strconv.ParseInt(r.PathValue("tabID"), 10, 64)
		if err != nil {
			http.Error(w, "bad tab id", http.StatusBadRequest)

			return
		}

		svc.guard.OnTabRemoved(r.Context(), tabID)
		svc.actions.drop(tabID)

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleNotifications returns a handler that serves and consumes the pending
// user notifications.
func handleNotifications(svc *service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, svc.actions.popNotifications())
	}
}

// writeJSON encodes v into w as JSON.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// tabState is the pending state of one tab: the actions the guard wants
// performed on it and the current blocked counter.
type tabState struct {
	// RedirectURL is the page the tab must be navigated to.  It is cleared
	// once served.
	RedirectURL string `json:"redirect_url,omitempty"`

	// BadgeCount is the number to show on the tab's action badge.
	BadgeCount int `json:"badge_count"`

	// Counter and Systems mirror the latest blocked-counter broadcast.
	Counter int   `json:"counter"`
	Systems []int `json:"systems,omitempty"`
}

// notification is one pending user notification.
type notification struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// tabActions is the HTTP platform adapter.  The guard's outward actions are
// journaled per tab, and the host platform polls and applies them.  A tab is
// considered open from its first navigation event until its removal is
// reported.
type tabActions struct {
	// mu protects tabs and notifications.
	mu *sync.Mutex

	tabs          map[int64]*tabState
	notifications []notification
}

// newTabActions returns an empty action journal.
func newTabActions() (a *tabActions) {
	return &tabActions{
		mu:   &sync.Mutex{},
		tabs: map[int64]*tabState{},
	}
}

// type check
var _ guard.Platform = (*tabActions)(nil)

// track registers the tab as open.
func (a *tabActions) track(tabID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tabs[tabID] == nil {
		a.tabs[tabID] = &tabState{}
	}
}

// drop forgets the tab and its pending actions.
func (a *tabActions) drop(tabID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.tabs, tabID)
}

// pop returns the tab's pending state and consumes the one-shot redirect
// action.
func (a *tabActions) pop(tabID int64) (st tabState, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.tabs[tabID]
	if t == nil {
		return tabState{}, false
	}

	st = *t
	t.RedirectURL = ""

	return st, true
}

// setCounter records the latest blocked-counter broadcast for the tab.
func (a *tabActions) setCounter(tabID int64, count int, systems []int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.tabs[tabID]
	if t == nil {
		return
	}

	t.Counter = count
	t.Systems = systems
}

// popNotifications returns and consumes the pending user notifications.
func (a *tabActions) popNotifications() (ns []notification) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ns = a.notifications
	if ns == nil {
		ns = []notification{}
	}

	a.notifications = nil

	return ns
}

// UpdateTab implements the [guard.Platform] interface for *tabActions.
func (a *tabActions) UpdateTab(_ context.Context, tabID int64, u string) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.tabs[tabID]
	if t == nil {
		return errTabNotTracked
	}

	t.RedirectURL = u

	return nil
}

// TabExists implements the [guard.Platform] interface for *tabActions.
func (a *tabActions) TabExists(_ context.Context, tabID int64) (ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok = a.tabs[tabID]

	return ok
}

// SetBadge implements the [guard.Platform] interface for *tabActions.
func (a *tabActions) SetBadge(_ context.Context, tabID int64, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t := a.tabs[tabID]; t != nil {
		t.BadgeCount = count
	}
}

// Notify implements the [guard.Platform] interface for *tabActions.
func (a *tabActions) Notify(_ context.Context, title, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.notifications = append(a.notifications, notification{Title: title, Text: text})
}
