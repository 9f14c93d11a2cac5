package provider_test

import (
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/fcchbjm/webguard/provider"
	"github.com/fcchbjm/webguard/verdict"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests and contexts.
const testTimeout = 5 * time.Second

// testHost is the hostname checked in the provider tests.
const testHost = "example.com"

// testPageURL is the page URL checked in the provider tests.
const testPageURL = "https://example.com/page"

// refBody is a reference-resolver body reporting that the name resolves.
const refBody = `{"Status":0,"Answer":[{"name":"example.com.","type":1,` +
	`"TTL":300,"data":"93.184.216.34"}]}`

// refBodyNXDomain is a reference-resolver body for a name that does not
// exist.
const refBodyNXDomain = `{"Status":3}`

// packResponse builds a wire-format A response for testHost.  A nil ip means
// a response without answers.
func packResponse(tb testing.TB, ip net.IP, rcode int) (b []byte) {
	tb.Helper()

	req := &dns.Msg{}
	req.SetQuestion(dns.Fqdn(testHost), dns.TypeA)
	req.Id = 0

	resp := (&dns.Msg{}).SetRcode(req, rcode)
	resp.RecursionAvailable = true
	if ip != nil {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   dns.Fqdn(testHost),
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    300,
			},
			A: ip,
		})
	}

	b, err := resp.Pack()
	require.NoError(tb, err)

	return b
}

// packCNAMEResponse builds a wire-format response substituting a CNAME to
// target for testHost.
func packCNAMEResponse(tb testing.TB, target string) (b []byte) {
	tb.Helper()

	req := &dns.Msg{}
	req.SetQuestion(dns.Fqdn(testHost), dns.TypeA)
	req.Id = 0

	resp := (&dns.Msg{}).SetReply(req)
	resp.Answer = append(resp.Answer, &dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(testHost),
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    300,
		},
		Target: dns.Fqdn(target),
	})

	b, err := resp.Pack()
	require.NoError(tb, err)

	return b
}

// newDNSServer returns a test server answering wire-format DoH queries with
// filtering and dns-json queries with reference.
func newDNSServer(tb testing.TB, filtering []byte, reference string) (srv *httptest.Server) {
	tb.Helper()

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("dns"); q != "" {
			_, err := base64.RawURLEncoding.DecodeString(q)
			require.NoError(testutil.PanicT{}, err)

			w.Header().Set("Content-Type", "application/dns-message")
			_, err = w.Write(filtering)
			require.NoError(testutil.PanicT{}, err)

			return
		}

		w.Header().Set("Content-Type", "application/dns-json")
		_, err := w.Write([]byte(reference))
		require.NoError(testutil.PanicT{}, err)
	}))
	tb.Cleanup(srv.Close)

	return srv
}

func TestDoH_Check_wire(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		signature provider.Signature
		name      string
		reference string
		filtering []byte
		want      verdict.ResultType
		wantErr   bool
	}{{
		signature: provider.ByteSeq{0, 4, 0, 0, 0, 0},
		name:      "null_answer_blocked",
		reference: refBody,
		filtering: packResponse(t, net.IPv4zero.To4(), dns.RcodeSuccess),
		want:      verdict.ResultMalicious,
	}, {
		signature: provider.ByteSeq{0, 4, 0, 0, 0, 0},
		name:      "real_answer_allowed",
		reference: refBody,
		filtering: packResponse(t, net.ParseIP("93.184.216.34").To4(), dns.RcodeSuccess),
		want:      verdict.ResultAllowed,
	}, {
		signature: provider.FlagByte{Index: 3, Value: 0x83},
		name:      "nxdomain_flag_blocked",
		reference: refBody,
		filtering: packResponse(t, nil, dns.RcodeNameError),
		want:      verdict.ResultMalicious,
	}, {
		signature: provider.SinkholeName("hit-adult.opendns.com"),
		name:      "sinkhole_blocked",
		reference: refBody,
		filtering: packCNAMEResponse(t, "hit-adult.opendns.com"),
		want:      verdict.ResultMalicious,
	}, {
		signature: provider.ByteSeq{0, 4, 0, 0, 0, 0},
		name:      "offline_inconclusive",
		reference: refBodyNXDomain,
		filtering: packResponse(t, net.IPv4zero.To4(), dns.RcodeSuccess),
		want:      verdict.ResultFailed,
		wantErr:   true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := newDNSServer(t, tc.filtering, tc.reference)

			p, err := provider.NewDoH(&provider.DoHConfig{
				Logger:    slogutil.NewDiscardLogger(),
				Client:    srv.Client(),
				Signature: tc.signature,
				Endpoint:  srv.URL + "/dns-query",
				Reference: srv.URL + "/resolve",
				CacheName: "test_doh",
				Origin:    verdict.OriginAdGuardDNS,
				BlockedAs: verdict.ResultMalicious,
				Format:    provider.FormatWire,
			})
			require.NoError(t, err)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			rt, err := p.Check(ctx, testHost, testPageURL)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tc.want, rt)
		})
	}
}

func TestDoH_Check_json(t *testing.T) {
	t.Parallel()

	const blockedBody = `{"Status":0,"Answer":[{"name":"example.com.",` +
		`"type":1,"TTL":60,"data":"0.0.0.0"}]}`

	testCases := []struct {
		name      string
		filtering string
		want      verdict.ResultType
	}{{
		name:      "blocked",
		filtering: blockedBody,
		want:      verdict.ResultAdultContent,
	}, {
		name:      "allowed",
		filtering: refBody,
		want:      verdict.ResultAllowed,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			mux.HandleFunc("/dns-query", func(w http.ResponseWriter, _ *http.Request) {
				_, err := w.Write([]byte(tc.filtering))
				require.NoError(testutil.PanicT{}, err)
			})
			mux.HandleFunc("/resolve", func(w http.ResponseWriter, _ *http.Request) {
				_, err := w.Write([]byte(refBody))
				require.NoError(testutil.PanicT{}, err)
			})

			srv := httptest.NewServer(mux)
			t.Cleanup(srv.Close)

			p, err := provider.NewDoH(&provider.DoHConfig{
				Logger:    slogutil.NewDiscardLogger(),
				Client:    srv.Client(),
				Signature: provider.JSONSubstring(`"TTL":60,"data":"0.0.0.0"`),
				Endpoint:  srv.URL + "/dns-query",
				Reference: srv.URL + "/resolve",
				CacheName: "test_doh_json",
				Origin:    verdict.OriginCloudflareFamily,
				BlockedAs: verdict.ResultAdultContent,
				Format:    provider.FormatJSON,
			})
			require.NoError(t, err)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			rt, err := p.Check(ctx, testHost, testPageURL)
			require.NoError(t, err)

			assert.Equal(t, tc.want, rt)
		})
	}
}

func TestDoH_Check_transportError(t *testing.T) {
	t.Parallel()

	srv := newDNSServer(t, packResponse(t, nil, dns.RcodeSuccess), refBody)
	srv.Close()

	p, err := provider.NewDoH(&provider.DoHConfig{
		Logger:    slogutil.NewDiscardLogger(),
		Client:    &http.Client{Timeout: testTimeout},
		Signature: provider.ByteSeq{0, 4, 0, 0, 0, 0},
		Endpoint:  srv.URL + "/dns-query",
		Reference: srv.URL + "/resolve",
		CacheName: "test_doh",
		Origin:    verdict.OriginAdGuardDNS,
		BlockedAs: verdict.ResultMalicious,
		Format:    provider.FormatWire,
	})
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	rt, err := p.Check(ctx, testHost, testPageURL)
	assert.Error(t, err)
	assert.Equal(t, verdict.ResultFailed, rt)
}

func TestCategory_Check(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
		want verdict.ResultType
	}{{
		name: "no_categories",
		body: `{"categories":[]}`,
		want: verdict.ResultAllowed,
	}, {
		name: "phishing",
		body: `{"categories":[30]}`,
		want: verdict.ResultPhishing,
	}, {
		name: "malicious",
		body: `{"categories":[20]}`,
		want: verdict.ResultMalicious,
	}, {
		name: "malicious_beats_phishing",
		body: `{"categories":[30,20]}`,
		want: verdict.ResultMalicious,
	}, {
		name: "untrusted_beats_all",
		body: `{"categories":[20,30,10]}`,
		want: verdict.ResultUntrusted,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(testutil.PanicT{}, http.MethodPost, r.Method)

					_, err := w.Write([]byte(tc.body))
					require.NoError(testutil.PanicT{}, err)
				},
			))
			t.Cleanup(srv.Close)

			p, err := provider.NewCategory(&provider.CategoryConfig{
				Logger:    slogutil.NewDiscardLogger(),
				Client:    srv.Client(),
				Untrusted: container.NewMapSet(10),
				Malicious: container.NewMapSet(20),
				Phishing:  container.NewMapSet(30),
				Endpoint:  srv.URL,
			})
			require.NoError(t, err)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			rt, err := p.Check(ctx, testHost, testPageURL)
			require.NoError(t, err)

			assert.Equal(t, tc.want, rt)
		})
	}
}

func TestVerdictAPI_Check(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
		want verdict.ResultType
	}{{
		name: "malicious",
		body: `{"verdict":"malicious"}`,
		want: verdict.ResultMalicious,
	}, {
		name: "clean",
		body: `{"verdict":"clean"}`,
		want: verdict.ResultAllowed,
	}, {
		name: "unrecognized_fails_open",
		body: `{"verdict":"suspicious"}`,
		want: verdict.ResultAllowed,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, _ *http.Request) {
					_, err := w.Write([]byte(tc.body))
					require.NoError(testutil.PanicT{}, err)
				},
			))
			t.Cleanup(srv.Close)

			p, err := provider.NewVerdictAPI(&provider.VerdictAPIConfig{
				Logger:   slogutil.NewDiscardLogger(),
				Client:   srv.Client(),
				Endpoint: srv.URL,
			})
			require.NoError(t, err)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			rt, err := p.Check(ctx, testHost, testPageURL)
			require.NoError(t, err)

			assert.Equal(t, tc.want, rt)
		})
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	providers, err := provider.NewRegistry(&provider.RegistryConfig{
		Logger:           slogutil.NewDiscardLogger(),
		Client:           &http.Client{Timeout: testTimeout},
		CategoryEndpoint: "https://reputation.example/v1/categories",
		VerdictEndpoint:  "https://reputation.example/v1/verdict",
	})
	require.NoError(t, err)

	seenOrigins := container.NewMapSet[verdict.Origin]()
	seenNames := container.NewMapSet[string]()
	for _, p := range providers {
		assert.False(t, seenOrigins.Has(p.Origin()), "duplicate origin %s", p.Origin())
		assert.False(t, seenNames.Has(p.CacheName()), "duplicate name %s", p.CacheName())

		seenOrigins.Add(p.Origin())
		seenNames.Add(p.CacheName())
	}

	assert.Len(t, providers, 15)
}
