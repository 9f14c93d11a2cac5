package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/fcchbjm/webguard/dnswire"
	"github.com/fcchbjm/webguard/verdict"
)

// ErrNotResolvable is returned when the reference lookup shows the hostname
// does not resolve, in which case a matching filtering response cannot be told
// apart from a domain that is genuinely offline.
const ErrNotResolvable errors.Error = "hostname does not resolve upstream"

// QueryFormat is the wire format of a DoH filtering endpoint.
type QueryFormat uint8

// QueryFormat values.
const (
	// FormatWire is the binary application/dns-message format, queried with a
	// base64url "dns" parameter.
	FormatWire QueryFormat = iota

	// FormatJSON is the application/dns-json format, queried with "name" and
	// "type" parameters.
	FormatJSON
)

// DefaultReference is the non-filtering application/dns-json resolver used as
// the reference lookup.
const DefaultReference = "https://dns.google/resolve"

// DoHConfig configures a DNS-over-HTTPS filtering provider.
type DoHConfig struct {
	// Logger is used for logging the operation of the provider.  It must not
	// be nil.
	Logger *slog.Logger

	// Client performs the outbound requests.  It must not be nil.
	Client *http.Client

	// Signature is the provider's blocked-response detection rule.  It must
	// not be nil.
	Signature Signature

	// Endpoint is the filtering resolver URL.  It must not be empty.
	Endpoint string

	// Reference is the non-filtering application/dns-json resolver queried in
	// parallel to tell filter blocks from genuine outages.  Empty means
	// [DefaultReference].
	Reference string

	// CacheName is the provider's cache namespace and settings key.  It must
	// not be empty.
	CacheName string

	// Origin identifies the provider in verdicts.
	Origin verdict.Origin

	// BlockedAs is the classification produced when the signature matches.
	BlockedAs verdict.ResultType

	// Format is the wire format of Endpoint.
	Format QueryFormat

	// RatePerSec limits outbound requests per second.  Zero means the default
	// budget.
	RatePerSec int

	// IsPartner marks the provider as a partner source.
	IsPartner bool
}

// DoH is a DNS-over-HTTPS filtering provider.  It issues two lookups for each
// checked hostname, one against the filtering resolver and one against a
// non-filtering reference resolver, and reports the URL blocked only when the
// hostname resolves upstream while the filtering response carries the
// provider's blocked signature.
type DoH struct {
	logger    *slog.Logger
	client    *http.Client
	signature Signature
	limiter   *limiter
	endpoint  string
	reference string
	cacheName string
	origin    verdict.Origin
	blockedAs verdict.ResultType
	format    QueryFormat
	isPartner bool
}

// NewDoH creates a new DNS-over-HTTPS filtering provider.  c must not be nil
// and must be valid.
func NewDoH(c *DoHConfig) (p *DoH, err error) {
	err = errors.Join(
		validate.NotNil("c.Logger", c.Logger),
		validate.NotNil("c.Client", c.Client),
		validate.NotNilInterface("c.Signature", c.Signature),
		validate.NotEmpty("c.Endpoint", c.Endpoint),
		validate.NotEmpty("c.CacheName", c.CacheName),
	)
	if err != nil {
		return nil, fmt.Errorf("doh provider config: %w", err)
	}

	ref := c.Reference
	if ref == "" {
		ref = DefaultReference
	}

	return &DoH{
		logger:    c.Logger.With("provider", c.CacheName),
		client:    c.Client,
		signature: c.Signature,
		limiter:   newLimiter(c.RatePerSec),
		endpoint:  c.Endpoint,
		reference: ref,
		cacheName: c.CacheName,
		origin:    c.Origin,
		blockedAs: c.BlockedAs,
		format:    c.Format,
		isPartner: c.IsPartner,
	}, nil
}

// type check
var _ Provider = (*DoH)(nil)

// Origin implements the [Provider] interface for *DoH.
func (p *DoH) Origin() (o verdict.Origin) { return p.origin }

// CacheName implements the [Provider] interface for *DoH.
func (p *DoH) CacheName() (name string) { return p.cacheName }

// Partner implements the [Provider] interface for *DoH.
func (p *DoH) Partner() (ok bool) { return p.isPartner }

// filteringResponse is the outcome of the filtering lookup.
type filteringResponse struct {
	msg  *dnswire.Message
	body []byte
	err  error
}

// Check implements the [Provider] interface for *DoH.  The page URL does not
// participate in DNS-based detection, only the hostname does.
func (p *DoH) Check(ctx context.Context, host, _ string) (rt verdict.ResultType, err error) {
	err = p.limiter.wait(ctx)
	if err != nil {
		return verdict.ResultFailed, err
	}

	// The two lookups are independent, so issue them in parallel.
	filtCh := make(chan filteringResponse, 1)
	go func() {
		msg, body, fErr := p.fetchFiltering(ctx, host)
		filtCh <- filteringResponse{msg: msg, body: body, err: fErr}
	}()

	resolves, refErr := p.fetchReference(ctx, host)
	filt := <-filtCh

	if refErr != nil {
		return verdict.ResultFailed, fmt.Errorf("reference lookup: %w", refErr)
	}

	if filt.err != nil {
		return verdict.ResultFailed, fmt.Errorf("filtering lookup: %w", filt.err)
	}

	if !resolves {
		return verdict.ResultFailed, ErrNotResolvable
	}

	if p.signature.Match(filt.msg, filt.body) {
		return p.blockedAs, nil
	}

	return verdict.ResultAllowed, nil
}

// fetchFiltering queries the filtering resolver for host.  msg is nil for
// JSON-format endpoints.
func (p *DoH) fetchFiltering(
	ctx context.Context,
	host string,
) (msg *dnswire.Message, body []byte, err error) {
	var q url.Values
	accept := "application/dns-json"
	if p.format == FormatWire {
		var packed string
		packed, err = dnswire.EncodeQuery(host, dnswire.TypeA)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding query: %w", err)
		}

		q = url.Values{"dns": []string{packed}}
		accept = "application/dns-message"
	} else {
		q = url.Values{
			"name": []string{host},
			"type": []string{"A"},
		}
	}

	body, err = p.get(ctx, p.endpoint, q, accept)
	if err != nil {
		return nil, nil, err
	}

	if p.format == FormatWire {
		msg, err = dnswire.Parse(body)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing response: %w", err)
		}
	}

	return msg, body, nil
}

// refResponse is the subset of the application/dns-json response body used by
// the reference lookup.
type refResponse struct {
	Answer []json.RawMessage `json:"Answer"`
	Status int               `json:"Status"`
}

// fetchReference queries the non-filtering reference resolver and reports
// whether host resolves, that is, the lookup succeeded with at least one
// answer.
func (p *DoH) fetchReference(ctx context.Context, host string) (resolves bool, err error) {
	q := url.Values{
		"name": []string{host},
		"type": []string{"A"},
	}

	body, err := p.get(ctx, p.reference, q, "application/dns-json")
	if err != nil {
		return false, err
	}

	ref := &refResponse{}
	err = json.Unmarshal(body, ref)
	if err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}

	return ref.Status == 0 && len(ref.Answer) > 0, nil
}

// get issues a GET request to endpoint with the given query and Accept header
// and returns the response body.
func (p *DoH) get(
	ctx context.Context,
	endpoint string,
	q url.Values,
	accept string,
) (body []byte, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}

	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request to %s: %w", u.Host, err)
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "")

	return fetchBody(p.client, req)
}
