// Package verdict defines the value types shared by the reputation providers,
// the cache store, and the navigation guard: the classification of a checked
// URL and the identity of the system that produced it.
package verdict

import "fmt"

// ResultType is the classification of a single provider check.
type ResultType uint8

// ResultType values.  Only the blocking classifications are actionable, see
// [ResultType.IsActionable].
const (
	// ResultKnownSafe means the URL was found in the allowed cache, so no
	// network check was performed.
	ResultKnownSafe ResultType = iota

	// ResultFailed means the provider could not be reached or returned an
	// inconclusive signal.  Failed results are never cached and never block.
	ResultFailed

	// ResultWaiting means an identical check for this URL and provider is
	// already in flight.
	ResultWaiting

	// ResultAllowed means the provider considers the URL safe.
	ResultAllowed

	// ResultMalicious means the URL serves malware or is otherwise dangerous.
	ResultMalicious

	// ResultPhishing means the URL is a phishing or scam page.
	ResultPhishing

	// ResultUntrusted means the URL belongs to an untrusted category.
	ResultUntrusted

	// ResultAdultContent means the URL serves adult content.
	ResultAdultContent
)

// IsActionable reports whether rt should block a navigation.
func (rt ResultType) IsActionable() (ok bool) {
	switch rt {
	case ResultMalicious, ResultPhishing, ResultUntrusted, ResultAdultContent:
		return true
	default:
		return false
	}
}

// type check
var _ fmt.Stringer = ResultType(0)

// String implements the [fmt.Stringer] interface for ResultType.
func (rt ResultType) String() (s string) {
	switch rt {
	case ResultKnownSafe:
		return "known_safe"
	case ResultFailed:
		return "failed"
	case ResultWaiting:
		return "waiting"
	case ResultAllowed:
		return "allowed"
	case ResultMalicious:
		return "malicious"
	case ResultPhishing:
		return "phishing"
	case ResultUntrusted:
		return "untrusted"
	case ResultAdultContent:
		return "adult_content"
	default:
		return fmt.Sprintf("!bad_result_type_%d", uint8(rt))
	}
}

// Origin identifies the reputation system that produced a result.
type Origin uint8

// Origin values.  OriginUnknown is reserved.
const (
	OriginUnknown Origin = iota
	OriginAdGuardDNS
	OriginCleanBrowsingSecurity
	OriginCleanBrowsingAdult
	OriginCloudflareSecurity
	OriginCloudflareFamily
	OriginQuad9
	OriginOpenDNSFamilyShield
	OriginDNS0
	OriginCIRAFamily
	OriginUltraFamily
	OriginSafeDNS
	OriginMullvadBase
	OriginControlD
	OriginCategoryAPI
	OriginVerdictAPI
)

// type check
var _ fmt.Stringer = Origin(0)

// String implements the [fmt.Stringer] interface for Origin.
func (o Origin) String() (s string) {
	switch o {
	case OriginUnknown:
		return "unknown"
	case OriginAdGuardDNS:
		return "adguard_dns"
	case OriginCleanBrowsingSecurity:
		return "cleanbrowsing_security"
	case OriginCleanBrowsingAdult:
		return "cleanbrowsing_adult"
	case OriginCloudflareSecurity:
		return "cloudflare_security"
	case OriginCloudflareFamily:
		return "cloudflare_family"
	case OriginQuad9:
		return "quad9"
	case OriginOpenDNSFamilyShield:
		return "opendns_familyshield"
	case OriginDNS0:
		return "dns0"
	case OriginCIRAFamily:
		return "cira_family"
	case OriginUltraFamily:
		return "ultra_family"
	case OriginSafeDNS:
		return "safedns"
	case OriginMullvadBase:
		return "mullvad_base"
	case OriginControlD:
		return "controld"
	case OriginCategoryAPI:
		return "category_api"
	case OriginVerdictAPI:
		return "verdict_api"
	default:
		return fmt.Sprintf("!bad_origin_%d", uint8(o))
	}
}

// Result is the outcome of checking a single URL against a single reputation
// provider.  It is immutable once constructed.
type Result struct {
	// URL is the checked URL.  It must not be empty.
	URL string

	// Type is the classification of the URL.
	Type ResultType

	// Origin identifies the provider that produced the result.
	Origin Origin
}
