// Package guardtest contains fake implementations of the interfaces consumed
// by the guard, the providers, and the cache store.
package guardtest

import (
	"context"

	"github.com/fcchbjm/webguard/verdict"
)

// Store is a fake [storage.Store] implementation for tests.
type Store struct {
	OnLoad  func(ctx context.Context, key string) (data []byte, err error)
	OnStore func(ctx context.Context, key string, data []byte) (err error)
}

// Load implements the [storage.Store] interface for *Store.
func (s *Store) Load(ctx context.Context, key string) (data []byte, err error) {
	return s.OnLoad(ctx, key)
}

// Store implements the [storage.Store] interface for *Store.
func (s *Store) Store(ctx context.Context, key string, data []byte) (err error) {
	return s.OnStore(ctx, key, data)
}

// Provider is a fake [provider.Provider] implementation for tests.
type Provider struct {
	OnOrigin    func() (o verdict.Origin)
	OnCacheName func() (name string)
	OnPartner   func() (ok bool)
	OnCheck     func(ctx context.Context, host, pageURL string) (rt verdict.ResultType, err error)
}

// NewProvider returns a fake provider with the given static identity whose
// Check reports check results through the given function.
func NewProvider(
	o verdict.Origin,
	name string,
	check func(ctx context.Context, host, pageURL string) (rt verdict.ResultType, err error),
) (p *Provider) {
	return &Provider{
		OnOrigin:    func() (origin verdict.Origin) { return o },
		OnCacheName: func() (cacheName string) { return name },
		OnPartner:   func() (ok bool) { return false },
		OnCheck:     check,
	}
}

// Origin implements the [provider.Provider] interface for *Provider.
func (p *Provider) Origin() (o verdict.Origin) {
	return p.OnOrigin()
}

// CacheName implements the [provider.Provider] interface for *Provider.
func (p *Provider) CacheName() (name string) {
	return p.OnCacheName()
}

// Partner implements the [provider.Provider] interface for *Provider.
func (p *Provider) Partner() (ok bool) {
	return p.OnPartner()
}

// Check implements the [provider.Provider] interface for *Provider.
func (p *Provider) Check(
	ctx context.Context,
	host string,
	pageURL string,
) (rt verdict.ResultType, err error) {
	return p.OnCheck(ctx, host, pageURL)
}

// Platform is a fake [guard.Platform] implementation for tests.
type Platform struct {
	OnUpdateTab func(ctx context.Context, tabID int64, u string) (err error)
	OnTabExists func(ctx context.Context, tabID int64) (ok bool)
	OnSetBadge  func(ctx context.Context, tabID int64, count int)
	OnNotify    func(ctx context.Context, title, text string)
}

// NewPlatform returns a fake platform whose every operation succeeds and does
// nothing.  Override the individual fields to observe or fail calls.
func NewPlatform() (p *Platform) {
	return &Platform{
		OnUpdateTab: func(_ context.Context, _ int64, _ string) (err error) { return nil },
		OnTabExists: func(_ context.Context, _ int64) (ok bool) { return true },
		OnSetBadge:  func(_ context.Context, _ int64, _ int) {},
		OnNotify:    func(_ context.Context, _, _ string) {},
	}
}

// UpdateTab implements the [guard.Platform] interface for *Platform.
func (p *Platform) UpdateTab(ctx context.Context, tabID int64, u string) (err error) {
	return p.OnUpdateTab(ctx, tabID, u)
}

// TabExists implements the [guard.Platform] interface for *Platform.
func (p *Platform) TabExists(ctx context.Context, tabID int64) (ok bool) {
	return p.OnTabExists(ctx, tabID)
}

// SetBadge implements the [guard.Platform] interface for *Platform.
func (p *Platform) SetBadge(ctx context.Context, tabID int64, count int) {
	p.OnSetBadge(ctx, tabID, count)
}

// Notify implements the [guard.Platform] interface for *Platform.
func (p *Platform) Notify(ctx context.Context, title, text string) {
	p.OnNotify(ctx, title, text)
}
