package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/fcchbjm/webguard/verdict"
)

// VerdictCacheName is the cache namespace and settings key of the binary
// verdict API.
const VerdictCacheName = "verdict_api"

// VerdictAPIConfig configures the binary verdict API provider.
type VerdictAPIConfig struct {
	// Logger is used for logging the operation of the provider.  It must not
	// be nil.
	Logger *slog.Logger

	// Client performs the outbound requests.  It must not be nil.
	Client *http.Client

	// Endpoint is the verdict API URL.  It must not be empty.
	Endpoint string

	// RatePerSec limits outbound requests per second.  Zero means the default
	// budget.
	RatePerSec int
}

// VerdictAPI is a reputation provider backed by a REST API that returns a
// literal verdict string for a URL.  Unrecognized verdicts are treated as
// allowed: an unexpected upstream response must not block the user's page.
type VerdictAPI struct {
	logger   *slog.Logger
	client   *http.Client
	limiter  *limiter
	endpoint string
}

// NewVerdictAPI creates a new binary verdict provider.  c must not be nil and
// must be valid.
func NewVerdictAPI(c *VerdictAPIConfig) (p *VerdictAPI, err error) {
	err = errors.Join(
		validate.NotNil("c.Logger", c.Logger),
		validate.NotNil("c.Client", c.Client),
		validate.NotEmpty("c.Endpoint", c.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("verdict provider config: %w", err)
	}

	return &VerdictAPI{
		logger:   c.Logger.With("provider", VerdictCacheName),
		client:   c.Client,
		limiter:  newLimiter(c.RatePerSec),
		endpoint: c.Endpoint,
	}, nil
}

// type check
var _ Provider = (*VerdictAPI)(nil)

// Origin implements the [Provider] interface for *VerdictAPI.
func (p *VerdictAPI) Origin() (o verdict.Origin) { return verdict.OriginVerdictAPI }

// CacheName implements the [Provider] interface for *VerdictAPI.
func (p *VerdictAPI) CacheName() (name string) { return VerdictCacheName }

// Partner implements the [Provider] interface for *VerdictAPI.
func (p *VerdictAPI) Partner() (ok bool) { return true }

// verdictRequest is the request body of the verdict API.
type verdictRequest struct {
	URL string `json:"url"`
}

// verdictResponse is the response body of the verdict API.
type verdictResponse struct {
	Verdict string `json:"verdict"`
}

// Verdict strings returned by the API.
const (
	verdictMalicious = "malicious"
	verdictClean     = "clean"
)

// Check implements the [Provider] interface for *VerdictAPI.
func (p *VerdictAPI) Check(
	ctx context.Context,
	_ string,
	pageURL string,
) (rt verdict.ResultType, err error) {
	err = p.limiter.wait(ctx)
	if err != nil {
		return verdict.ResultFailed, err
	}

	reqBody, err := json.Marshal(&verdictRequest{URL: pageURL})
	if err != nil {
		return verdict.ResultFailed, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.endpoint,
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return verdict.ResultFailed, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	body, err := fetchBody(p.client, req)
	if err != nil {
		return verdict.ResultFailed, err
	}

	vResp := &verdictResponse{}
	err = json.Unmarshal(body, vResp)
	if err != nil {
		return verdict.ResultFailed, fmt.Errorf("decoding response: %w", err)
	}

	switch vResp.Verdict {
	case verdictMalicious:
		return verdict.ResultMalicious, nil
	case verdictClean:
		return verdict.ResultAllowed, nil
	default:
		p.logger.WarnContext(ctx, "unrecognized verdict", "verdict", vResp.Verdict)

		return verdict.ResultAllowed, nil
	}
}
