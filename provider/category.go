package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/fcchbjm/webguard/verdict"
)

// CategoryCacheName is the cache namespace and settings key of the category
// reputation API.
const CategoryCacheName = "category_api"

// CategoryConfig configures the category reputation API provider.
type CategoryConfig struct {
	// Logger is used for logging the operation of the provider.  It must not
	// be nil.
	Logger *slog.Logger

	// Client performs the outbound requests.  It must not be nil.
	Client *http.Client

	// Untrusted, Malicious, and Phishing are the disjoint category-code sets
	// mapped to the corresponding classifications.  They must not be nil.
	Untrusted *container.MapSet[int]
	Malicious *container.MapSet[int]
	Phishing  *container.MapSet[int]

	// Endpoint is the reputation API URL.  It must not be empty.
	Endpoint string

	// RatePerSec limits outbound requests per second.  Zero means the default
	// budget.
	RatePerSec int
}

// Category is a reputation provider that classifies URLs by the category
// codes returned by a JSON REST API.  When a URL carries categories from
// several sets, the most severe classification wins: untrusted over malicious
// over phishing.
type Category struct {
	logger    *slog.Logger
	client    *http.Client
	limiter   *limiter
	untrusted *container.MapSet[int]
	malicious *container.MapSet[int]
	phishing  *container.MapSet[int]
	endpoint  string
}

// NewCategory creates a new category reputation provider.  c must not be nil
// and must be valid.
func NewCategory(c *CategoryConfig) (p *Category, err error) {
	err = errors.Join(
		validate.NotNil("c.Logger", c.Logger),
		validate.NotNil("c.Client", c.Client),
		validate.NotNil("c.Untrusted", c.Untrusted),
		validate.NotNil("c.Malicious", c.Malicious),
		validate.NotNil("c.Phishing", c.Phishing),
		validate.NotEmpty("c.Endpoint", c.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("category provider config: %w", err)
	}

	return &Category{
		logger:    c.Logger.With("provider", CategoryCacheName),
		client:    c.Client,
		limiter:   newLimiter(c.RatePerSec),
		untrusted: c.Untrusted,
		malicious: c.Malicious,
		phishing:  c.Phishing,
		endpoint:  c.Endpoint,
	}, nil
}

// type check
var _ Provider = (*Category)(nil)

// Origin implements the [Provider] interface for *Category.
func (p *Category) Origin() (o verdict.Origin) { return verdict.OriginCategoryAPI }

// CacheName implements the [Provider] interface for *Category.
func (p *Category) CacheName() (name string) { return CategoryCacheName }

// Partner implements the [Provider] interface for *Category.
func (p *Category) Partner() (ok bool) { return true }

// categoryRequest is the request body of the category API.
type categoryRequest struct {
	URL string `json:"url"`
}

// categoryResponse is the response body of the category API.
type categoryResponse struct {
	Categories []int `json:"categories"`
}

// Check implements the [Provider] interface for *Category.
func (p *Category) Check(
	ctx context.Context,
	_ string,
	pageURL string,
) (rt verdict.ResultType, err error) {
	err = p.limiter.wait(ctx)
	if err != nil {
		return verdict.ResultFailed, err
	}

	reqBody, err := json.Marshal(&categoryRequest{URL: pageURL})
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

	catResp := &categoryResponse{}
	err = json.Unmarshal(body, catResp)
	if err != nil {
		return verdict.ResultFailed, fmt.Errorf("decoding response: %w", err)
	}

	return p.classify(catResp.Categories), nil
}

// classify maps the returned category codes to a classification.
func (p *Category) classify(categories []int) (rt verdict.ResultType) {
	rt = verdict.ResultAllowed
	for _, cat := range categories {
		switch {
		case p.untrusted.Has(cat):
			// The most severe classification, nothing can override it.
			return verdict.ResultUntrusted
		case p.malicious.Has(cat):
			rt = verdict.ResultMalicious
		case p.phishing.Has(cat) && rt != verdict.ResultMalicious:
			rt = verdict.ResultPhishing
		}
	}

	return rt
}
