package storage

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// Session is an ephemeral in-process [Store].  Its contents are lost on
// restart, which is exactly what the processing-cache blob needs: an in-flight
// marker must not outlive the process that created it.
type Session struct {
	items *gocache.Cache
}

// NewSession returns a new ephemeral store.
func NewSession() (s *Session) {
	return &Session{
		items: gocache.New(gocache.NoExpiration, 0),
	}
}

// type check
var _ Store = (*Session)(nil)

// Load implements the [Store] interface for *Session.
func (s *Session) Load(_ context.Context, key string) (data []byte, err error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, nil
	}

	data, ok = v.([]byte)
	if !ok {
		// Shouldn't happen, only this type is ever stored.
		return nil, nil
	}

	return data, nil
}

// Store implements the [Store] interface for *Session.
func (s *Session) Store(_ context.Context, key string, data []byte) (err error) {
	s.items.Set(key, data, gocache.NoExpiration)

	return nil
}
