// Package provider implements the closed set of reputation sources consulted
// for every checked navigation: DNS-over-HTTPS filtering resolvers, in both
// the binary application/dns-message and the application/dns-json flavors,
// each paired with a non-filtering reference lookup, plus the category and
// binary-verdict REST APIs.
//
// A provider's Check is a single outbound exchange with a fixed detection
// rule.  Transport failures, bad statuses, and malformed payloads are returned
// as errors; the caller treats them as a failed, non-blocking result.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	rate "github.com/beefsack/go-rate"
	"github.com/fcchbjm/webguard/verdict"
)

// DefaultTimeout is the timeout of a single outbound provider exchange.
const DefaultTimeout = 10 * time.Second

// defaultRatePerSec is the default per-provider outbound request budget.
const defaultRatePerSec = 20

// Provider classifies URLs against one reputation source.
type Provider interface {
	// Origin identifies the provider in verdicts.
	Origin() (o verdict.Origin)

	// CacheName returns the provider's cache namespace and settings key.
	CacheName() (name string)

	// Partner reports whether the provider is a partner source.  Partner
	// checks are dispatched without the non-partner delay.
	Partner() (ok bool)

	// Check classifies the page at pageURL served from host.  It returns one
	// of the allowed or blocking classifications, or an error when the source
	// could not produce a usable signal.
	Check(ctx context.Context, host, pageURL string) (rt verdict.ResultType, err error)
}

// limiter paces the outbound requests of one provider.
type limiter struct {
	rl *rate.RateLimiter
}

// newLimiter returns a limiter allowing perSec requests per second.  Zero
// means the default budget.
func newLimiter(perSec int) (l *limiter) {
	if perSec == 0 {
		perSec = defaultRatePerSec
	}

	return &limiter{
		rl: rate.New(perSec, time.Second),
	}
}

// wait blocks until a request slot is available or ctx is done.
func (l *limiter) wait(ctx context.Context) (err error) {
	for {
		ok, remaining := l.rl.Try()
		if ok {
			return nil
		}

		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()

			return ctx.Err()
		case <-t.C:
			// Try again.
		}
	}
}

// fetchBody performs req with client and returns the response body.  Non-2xx
// statuses are errors.
func fetchBody(client *http.Client, req *http.Request) (body []byte, err error) {
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", req.URL.Host, err)
	}
	defer func() { err = errors.WithDeferred(err, httpResp.Body.Close()) }()

	body, err = io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.URL.Host, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expected status %d, got %d from %s",
			http.StatusOK,
			httpResp.StatusCode,
			req.URL.Host,
		)
	}

	return body, nil
}
