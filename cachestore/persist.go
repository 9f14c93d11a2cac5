package cachestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fcchbjm/webguard/internal/storage"
)

// Storage keys of the persisted tier blobs.
const (
	keyAllowed    = "cache_allowed"
	keyBlocked    = "cache_blocked"
	keyProcessing = "cache_processing"
)

// Start loads the persisted tiers and starts the background sweep.  Corrupt or
// unavailable blobs degrade to an empty tier.
func (s *Store) Start(ctx context.Context) (err error) {
	s.load(ctx)

	go s.sweepLoop(ctx)

	return nil
}

// Shutdown stops the background sweep and flushes any pending mutations.
func (s *Store) Shutdown(ctx context.Context) (err error) {
	close(s.done)

	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()

	s.flush(ctx)

	return nil
}

// load reads the three tier blobs from their backing stores.
func (s *Store) load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadTier(ctx, s, s.durable, keyAllowed, &s.allowed)
	loadTier(ctx, s, s.durable, keyBlocked, &s.blocked)
	loadTier(ctx, s, s.session, keyProcessing, &s.processing)
}

// loadTier reads and unmarshals one tier blob into into.  Errors are logged
// and leave the tier empty.
func loadTier[T any](
	ctx context.Context,
	s *Store,
	backend storage.Store,
	key string,
	into *map[string]map[string]T,
) {
	data, err := backend.Load(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "loading cache blob", "key", key, slogutil.KeyError, err)

		return
	}

	if len(data) == 0 {
		return
	}

	loaded := map[string]map[string]T{}
	err = json.Unmarshal(data, &loaded)
	if err != nil {
		s.logger.WarnContext(ctx, "decoding cache blob", "key", key, slogutil.KeyError, err)

		return
	}

	*into = loaded
}

// scheduleFlushLocked marks a tier dirty and arms the debounce timer if it
// isn't armed already.  s.mu must be held.  session is true for
// processing-tier mutations.
func (s *Store) scheduleFlushLocked(ctx context.Context, session bool) {
	if session {
		s.dirtySession = true
	} else {
		s.dirtyDurable = true
	}

	if s.flushTimer != nil {
		return
	}

	s.flushTimer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.flushTimer = nil
		s.mu.Unlock()

		s.flush(context.WithoutCancel(ctx))
	})
}

// flush writes the dirty tiers to their backing stores.  Failures are logged;
// the in-memory mirror remains authoritative.
func (s *Store) flush(ctx context.Context) {
	s.mu.Lock()

	var allowedData, blockedData, processingData []byte
	durable, session := s.dirtyDurable, s.dirtySession
	s.dirtyDurable, s.dirtySession = false, false

	var err error
	if durable {
		if allowedData, err = json.Marshal(s.allowed); err != nil {
			durable = false
		} else if blockedData, err = json.Marshal(s.blocked); err != nil {
			durable = false
		}
	}

	if session {
		if processingData, err = json.Marshal(s.processing); err != nil {
			session = false
		}
	}

	s.mu.Unlock()

	if err != nil {
		s.logger.WarnContext(ctx, "encoding cache blobs", slogutil.KeyError, err)
	}

	if durable {
		s.storeBlob(ctx, s.durable, keyAllowed, allowedData)
		s.storeBlob(ctx, s.durable, keyBlocked, blockedData)
	}

	if session {
		s.storeBlob(ctx, s.session, keyProcessing, processingData)
	}
}

// storeBlob writes one blob, logging failures.
func (s *Store) storeBlob(ctx context.Context, backend storage.Store, key string, data []byte) {
	err := backend.Store(ctx, key, data)
	if err != nil {
		s.logger.WarnContext(ctx, "storing cache blob", "key", key, slogutil.KeyError, err)
	}
}

// sweepLoop periodically evicts expired entries until [Store.Shutdown].
func (s *Store) sweepLoop(ctx context.Context) {
	t := time.NewTicker(s.sweepIvl)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

// sweep removes expired entries across all three tiers.
func (s *Store) sweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removedDurable, removedSession := 0, 0

	for _, m := range s.allowed {
		for key, expiry := range m {
			if expired(expiry, now) {
				delete(m, key)
				removedDurable++
			}
		}
	}

	for _, m := range s.blocked {
		for key, ent := range m {
			if expired(ent.Expiry, now) {
				delete(m, key)
				removedDurable++
			}
		}
	}

	for _, m := range s.processing {
		for key, ent := range m {
			if expired(ent.Expiry, now) {
				delete(m, key)
				removedSession++
			}
		}
	}

	if removedDurable > 0 {
		s.scheduleFlushLocked(ctx, false)
	}

	if removedSession > 0 {
		s.scheduleFlushLocked(ctx, true)
	}

	if n := removedDurable + removedSession; n > 0 {
		s.logger.DebugContext(ctx, "swept expired cache entries", "count", n)
	}
}
