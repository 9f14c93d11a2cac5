package provider

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/container"
	"github.com/fcchbjm/webguard/verdict"
)

// Blocked-response signatures, as observed from each resolver.  None of these
// are documented by the resolvers; they were derived from live blocked
// responses and may break without notice if an upstream changes its blocking
// behavior.
var (
	// sigNullAnswer matches an A answer with RDLENGTH 4 and the null address
	// 0.0.0.0, the rewrite used by AdGuard DNS and ControlD.
	sigNullAnswer = ByteSeq{0, 4, 0, 0, 0, 0}

	// sigRefusedNXDomain matches header flag bytes 0x81 0x83: a response with
	// RA set and RCODE NXDOMAIN, which CleanBrowsing synthesizes for filtered
	// names.
	sigRefusedNXDomain = FlagByte{Index: 3, Value: 0x83}

	// sigNXDomain matches the plain NXDOMAIN low flag byte used by Quad9,
	// dns0.eu, and Mullvad when a name is filtered.
	sigNXDomain = FlagByte{Index: 3, Value: 0x03}

	// sigNullJSON matches the fixed-TTL null answer in Cloudflare's and
	// CIRA's dns-json blocked responses.
	sigNullJSON = JSONSubstring(`"TTL":60,"data":"0.0.0.0"`)

	// sigUltraSinkhole matches the UltraDNS sinkhole address 156.154.113.16
	// anywhere in the answer bytes.
	sigUltraSinkhole = ByteSeq{156, 154, 113, 16}

	// sigOpenDNSSinkhole and sigSafeDNSSinkhole match the CNAME targets the
	// respective resolvers substitute for filtered names.
	sigOpenDNSSinkhole = SinkholeName("hit-adult.opendns.com")
	sigSafeDNSSinkhole = SinkholeName("block.safedns.com")
)

// RegistryConfig configures the full provider set.
type RegistryConfig struct {
	// Logger is used for logging the operation of the providers.  It must not
	// be nil.
	Logger *slog.Logger

	// Client performs the outbound requests of all providers.  It must not be
	// nil.
	Client *http.Client

	// Reference is the non-filtering resolver for the DoH providers.  Empty
	// means [DefaultReference].
	Reference string

	// CategoryEndpoint and VerdictEndpoint are the partner REST API URLs.
	// Empty disables the corresponding provider.
	CategoryEndpoint string
	VerdictEndpoint  string

	// RatePerSec limits each provider's outbound requests per second.  Zero
	// means the default budget.
	RatePerSec int
}

// dohEntry is one row of the static DoH provider table.
type dohEntry struct {
	signature Signature
	endpoint  string
	cacheName string
	origin    verdict.Origin
	blockedAs verdict.ResultType
	format    QueryFormat
	isPartner bool
}

// dohProviders is the static table of DNS-over-HTTPS filtering providers.
var dohProviders = []dohEntry{{
	signature: sigNullAnswer,
	endpoint:  "https://dns-family.adguard-dns.com/dns-query",
	cacheName: "adguard_dns",
	origin:    verdict.OriginAdGuardDNS,
	blockedAs: verdict.ResultMalicious,
	format:    FormatWire,
	isPartner: true,
}, {
	signature: sigRefusedNXDomain,
	endpoint:  "https://doh.cleanbrowsing.org/doh/security-filter/",
	cacheName: "cleanbrowsing_security",
	origin:    verdict.OriginCleanBrowsingSecurity,
	blockedAs: verdict.ResultMalicious,
	format:    FormatWire,
}, {
	signature: sigRefusedNXDomain,
	endpoint:  "https://doh.cleanbrowsing.org/doh/adult-filter/",
	cacheName: "cleanbrowsing_adult",
	origin:    verdict.OriginCleanBrowsingAdult,
	blockedAs: verdict.ResultAdultContent,
	format:    FormatWire,
}, {
	signature: sigNullJSON,
	endpoint:  "https://security.cloudflare-dns.com/dns-query",
	cacheName: "cloudflare_security",
	origin:    verdict.OriginCloudflareSecurity,
	blockedAs: verdict.ResultMalicious,
	format:    FormatJSON,
}, {
	signature: sigNullJSON,
	endpoint:  "https://family.cloudflare-dns.com/dns-query",
	cacheName: "cloudflare_family",
	origin:    verdict.OriginCloudflareFamily,
	blockedAs: verdict.ResultAdultContent,
	format:    FormatJSON,
}, {
	signature: sigNXDomain,
	endpoint:  "https://dns.quad9.net/dns-query",
	cacheName: "quad9",
	origin:    verdict.OriginQuad9,
	blockedAs: verdict.ResultMalicious,
	format:    FormatWire,
}, {
	signature: sigOpenDNSSinkhole,
	endpoint:  "https://doh.familyshield.opendns.com/dns-query",
	cacheName: "opendns_familyshield",
	origin:    verdict.OriginOpenDNSFamilyShield,
	blockedAs: verdict.ResultAdultContent,
	format:    FormatWire,
}, {
	signature: sigNXDomain,
	endpoint:  "https://zero.dns0.eu/",
	cacheName: "dns0",
	origin:    verdict.OriginDNS0,
	blockedAs: verdict.ResultMalicious,
	format:    FormatWire,
}, {
	signature: sigNullJSON,
	endpoint:  "https://family.canadianshield.cira.ca/dns-query",
	cacheName: "cira_family",
	origin:    verdict.OriginCIRAFamily,
	blockedAs: verdict.ResultAdultContent,
	format:    FormatJSON,
}, {
	signature: sigUltraSinkhole,
	endpoint:  "https://family.ultradns.com/dns-query",
	cacheName: "ultra_family",
	origin:    verdict.OriginUltraFamily,
	blockedAs: verdict.ResultAdultContent,
	format:    FormatWire,
}, {
	signature: sigSafeDNSSinkhole,
	endpoint:  "https://doh.safedns.com/dns-query",
	cacheName: "safedns",
	origin:    verdict.OriginSafeDNS,
	blockedAs: verdict.ResultUntrusted,
	format:    FormatWire,
}, {
	signature: sigNXDomain,
	endpoint:  "https://base.dns.mullvad.net/dns-query",
	cacheName: "mullvad_base",
	origin:    verdict.OriginMullvadBase,
	blockedAs: verdict.ResultMalicious,
	format:    FormatWire,
}, {
	signature: sigNullAnswer,
	endpoint:  "https://freedns.controld.com/p1",
	cacheName: "controld",
	origin:    verdict.OriginControlD,
	blockedAs: verdict.ResultMalicious,
	format:    FormatWire,
}}

// Category codes of the category reputation API.
var (
	untrustedCategories = container.NewMapSet(101, 102, 103)
	maliciousCategories = container.NewMapSet(201, 202, 203, 204)
	phishingCategories  = container.NewMapSet(301, 302)
)

// NewRegistry builds the full provider set: every DNS-over-HTTPS filtering
// provider plus the partner REST providers that have an endpoint configured.
// c must not be nil and must be valid.
func NewRegistry(c *RegistryConfig) (providers []Provider, err error) {
	for _, ent := range dohProviders {
		var p *DoH
		p, err = NewDoH(&DoHConfig{
			Logger:     c.Logger,
			Client:     c.Client,
			Signature:  ent.signature,
			Endpoint:   ent.endpoint,
			Reference:  c.Reference,
			CacheName:  ent.cacheName,
			Origin:     ent.origin,
			BlockedAs:  ent.blockedAs,
			Format:     ent.format,
			RatePerSec: c.RatePerSec,
			IsPartner:  ent.isPartner,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", ent.cacheName, err)
		}

		providers = append(providers, p)
	}

	if c.CategoryEndpoint != "" {
		var p *Category
		p, err = NewCategory(&CategoryConfig{
			Logger:     c.Logger,
			Client:     c.Client,
			Untrusted:  untrustedCategories,
			Malicious:  maliciousCategories,
			Phishing:   phishingCategories,
			Endpoint:   c.CategoryEndpoint,
			RatePerSec: c.RatePerSec,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", CategoryCacheName, err)
		}

		providers = append(providers, p)
	}

	if c.VerdictEndpoint != "" {
		var p *VerdictAPI
		p, err = NewVerdictAPI(&VerdictAPIConfig{
			Logger:     c.Logger,
			Client:     c.Client,
			Endpoint:   c.VerdictEndpoint,
			RatePerSec: c.RatePerSec,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", VerdictCacheName, err)
		}

		providers = append(providers, p)
	}

	return providers, nil
}
