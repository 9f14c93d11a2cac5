package provider

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
)

const (
	// transportDefaultReadIdleTimeout is how often an HTTP/2 connection is
	// pinged when there are no other requests in flight.
	transportDefaultReadIdleTimeout = 30 * time.Second

	// transportDefaultIdleConnTimeout is the default timeout for idle
	// connections of the providers' HTTP transport.
	transportDefaultIdleConnTimeout = 5 * time.Minute

	// transportMaxConnsPerHost controls the maximum number of connections per
	// resolver host.
	transportMaxConnsPerHost = 2

	// transportMaxIdleConns controls the maximum number of idle connections
	// kept by the providers' HTTP transport.
	transportMaxIdleConns = 2
)

// NewHTTPClient returns the HTTP client shared by the providers.  When useH3
// is true, requests are sent over HTTP/3; otherwise the transport negotiates
// HTTP/2 with pings enabled on idle connections.  A zero timeout means
// [DefaultTimeout].
func NewHTTPClient(useH3 bool, timeout time.Duration) (client *http.Client, err error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	var rt http.RoundTripper
	if useH3 {
		rt = &http3Transport{
			baseTransport: &http3.Transport{
				DisableCompression: true,
			},
		}
	} else {
		transport := &http.Transport{
			DisableCompression: true,
			IdleConnTimeout:    transportDefaultIdleConnTimeout,
			MaxConnsPerHost:    transportMaxConnsPerHost,
			MaxIdleConns:       transportMaxIdleConns,
			ForceAttemptHTTP2:  true,
		}

		var transportH2 *http2.Transport
		transportH2, err = http2.ConfigureTransports(transport)
		if err != nil {
			return nil, err
		}

		// Enable HTTP/2 pings on idle connections.
		transportH2.ReadIdleTimeout = transportDefaultReadIdleTimeout

		rt = transport
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}, nil
}

// http3Transport is a wrapper over *http3.RoundTripper that tries to reuse a
// single connection to a host instead of creating a new one for every
// request.
type http3Transport struct {
	baseTransport *http3.Transport

	closed bool
	mu     sync.RWMutex
}

// type check
var _ http.RoundTripper = (*http3Transport)(nil)

// RoundTrip implements the http.RoundTripper interface for *http3Transport.
func (h *http3Transport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, net.ErrClosed
	}

	// Try to use a cached connection to the target host if it's available.
	resp, err = h.baseTransport.RoundTripOpt(req, http3.RoundTripOpt{OnlyCachedConn: true})
	if errors.Is(err, http3.ErrNoCachedConn) {
		// If there is no cached connection, trigger creating a new one.
		resp, err = h.baseTransport.RoundTrip(req)
	}

	return resp, err
}

// type check
var _ io.Closer = (*http3Transport)(nil)

// Close implements the io.Closer interface for *http3Transport.
func (h *http3Transport) Close() (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	return h.baseTransport.Close()
}
