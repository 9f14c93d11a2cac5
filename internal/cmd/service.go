package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/fcchbjm/webguard/cachestore"
	"github.com/fcchbjm/webguard/guard"
	"github.com/fcchbjm/webguard/internal/storage"
	"github.com/fcchbjm/webguard/provider"
)

// service bundles the long-lived parts of the daemon.
type service struct {
	guard   *guard.Guard
	cache   *cachestore.Store
	bus     *guard.Bus
	actions *tabActions

	// durable is the verdict-cache backend to close on shutdown, nil when
	// persistence is disabled.
	durable io.Closer
}

// newService assembles the guard service from conf.  l must not be nil.
func newService(ctx context.Context, l *slog.Logger, conf *configuration) (svc *service, err error) {
	durable, closer, err := newDurableStore(conf)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	cache, err := cachestore.New(&cachestore.Config{
		Logger:  l.With(slogutil.KeyPrefix, "cachestore"),
		Clock:   timeutil.SystemClock{},
		Durable: durable,
		Session: storage.NewSession(),
		TTL:     time.Duration(conf.CacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	client, err := provider.NewHTTPClient(conf.HTTP3, time.Duration(conf.Timeout))
	if err != nil {
		return nil, fmt.Errorf("creating http client: %w", err)
	}

	providers, err := provider.NewRegistry(&provider.RegistryConfig{
		Logger:           l.With(slogutil.KeyPrefix, "provider"),
		Client:           client,
		Reference:        conf.Reference,
		CategoryEndpoint: conf.CategoryURL,
		VerdictEndpoint:  conf.VerdictURL,
		RatePerSec:       conf.Ratelimit,
	})
	if err != nil {
		return nil, fmt.Errorf("creating providers: %w", err)
	}

	bus := guard.NewBus()
	actions := newTabActions()

	g, err := guard.New(&guard.Config{
		Logger:            l.With(slogutil.KeyPrefix, "guard"),
		Clock:             timeutil.SystemClock{},
		Platform:          actions,
		Cache:             cache,
		Messages:          bus,
		Providers:         providers,
		DisabledProviders: conf.DisableProviders,
		WarningPageBase:   conf.WarningPage,
		NewTabURL:         conf.NewTabURL,
		NonPartnerDelay:   time.Duration(conf.NonPartnerDelay),
		Notify:            conf.Notify,
		CheckSubFrames:    conf.CheckSubFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("creating guard: %w", err)
	}

	// Mirror counter broadcasts into the action journal so that API clients
	// polling a tab see the current blocked counter.
	bus.Subscribe(func(_ context.Context, msg guard.Message) {
		if msg.Type == guard.MsgBlockedCounterPong {
			actions.setCounter(msg.TabID, msg.Count, msg.Systems)
		}
	})

	svc = &service{
		guard:   g,
		cache:   cache,
		bus:     bus,
		actions: actions,
		durable: closer,
	}

	return svc, nil
}

// newDurableStore returns the configured durable verdict-cache backend and,
// when the backend holds resources, its closer.
func newDurableStore(conf *configuration) (s storage.Store, c io.Closer, err error) {
	switch {
	case conf.RedisAddr != "":
		r := storage.NewRedis(conf.RedisAddr)

		return r, r, nil
	case conf.DBPath != "":
		b, err := storage.NewBolt(conf.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}

		return b, b, nil
	default:
		return storage.Empty{}, nil, nil
	}
}

// start loads the persisted verdict caches and starts the background jobs.
func (svc *service) start(ctx context.Context) (err error) {
	return svc.cache.Start(ctx)
}

// shutdown stops the guard and the cache and releases the storage backend.
func (svc *service) shutdown(ctx context.Context) (err error) {
	var errs []error
	errs = append(errs, svc.guard.Shutdown(ctx))
	errs = append(errs, svc.cache.Shutdown(ctx))

	if svc.durable != nil {
		errs = append(errs, svc.durable.Close())
	}

	return errors.Join(errs...)
}
