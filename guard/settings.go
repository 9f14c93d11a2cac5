package guard

import (
	"strings"
	"sync"

	"github.com/fcchbjm/webguard/provider"
)

// settings is the runtime-adjustable part of the guard configuration.  The
// per-provider enable flags are keyed by provider cache name and toggled by
// the corresponding *_TOGGLED bus messages.
type settings struct {
	// mu protects all fields.
	mu *sync.Mutex

	enabled map[string]bool

	notify         bool
	checkSubFrames bool
}

// newSettings returns the startup settings for the given provider set.
func newSettings(
	providers []provider.Provider,
	disabled []string,
	notify bool,
	checkSubFrames bool,
) (s *settings) {
	enabled := make(map[string]bool, len(providers))
	for _, p := range providers {
		enabled[p.CacheName()] = true
	}

	for _, name := range disabled {
		enabled[name] = false
	}

	return &settings{
		mu:             &sync.Mutex{},
		enabled:        enabled,
		notify:         notify,
		checkSubFrames: checkSubFrames,
	}
}

// providerEnabled reports whether the provider with the given cache name is
// enabled.  Unknown names are disabled.
func (s *settings) providerEnabled(name string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enabled[name]
}

// setProviderEnabled flips the provider's enable flag.  It reports whether
// name is a known provider.
func (s *settings) setProviderEnabled(name string, enabled bool) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok = s.enabled[name]; ok {
		s.enabled[name] = enabled
	}

	return ok
}

// notifyEnabled reports whether blocked navigations show a notification.
func (s *settings) notifyEnabled() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.notify
}

// subFramesEnabled reports whether non-main-frame navigations are checked.
func (s *settings) subFramesEnabled() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkSubFrames
}

// ToggleMessageType returns the bus message type toggling the provider with
// the given cache name, for example "QUAD9_TOGGLED".
func ToggleMessageType(name string) (msgType string) {
	return strings.ToUpper(name) + toggledSuffix
}

// providerFromToggle returns the provider cache name a toggle message refers
// to, or "" if msgType is not a toggle message.
func providerFromToggle(msgType string) (name string) {
	if !strings.HasSuffix(msgType, toggledSuffix) {
		return ""
	}

	return strings.ToLower(strings.TrimSuffix(msgType, toggledSuffix))
}
