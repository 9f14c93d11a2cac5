package dnswire_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/fcchbjm/webguard/dnswire"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packMsg packs m and requires success.
func packMsg(t *testing.T, m *dns.Msg) (b []byte) {
	t.Helper()

	b, err := m.Pack()
	require.NoError(t, err)

	return b
}

func TestEncodeQuery(t *testing.T) {
	t.Parallel()

	q, err := dnswire.EncodeQuery("www.example.com", dnswire.TypeA)
	require.NoError(t, err)

	// The encoding must be unpadded base64url.
	assert.NotContains(t, q, "=")
	assert.NotContains(t, q, "+")
	assert.NotContains(t, q, "/")

	raw, err := base64.RawURLEncoding.DecodeString(q)
	require.NoError(t, err)

	ref := &dns.Msg{}
	require.NoError(t, ref.Unpack(raw))

	require.Len(t, ref.Question, 1)
	assert.Equal(t, "www.example.com.", ref.Question[0].Name)
	assert.Equal(t, dns.TypeA, ref.Question[0].Qtype)
	assert.Equal(t, uint16(dns.ClassINET), ref.Question[0].Qclass)
	assert.Equal(t, uint16(0), ref.Id)
	assert.True(t, ref.RecursionDesired)
}

func TestEncodeQuery_roundTrip(t *testing.T) {
	t.Parallel()

	hosts := []string{
		"example.com",
		"example.com.",
		"a.b.c.d.example.org",
		strings.Repeat("a", 63) + ".example.net",
	}

	for _, host := range hosts {
		t.Run(host, func(t *testing.T) {
			t.Parallel()

			q, err := dnswire.EncodeQuery(host, dnswire.TypeA)
			require.NoError(t, err)

			raw, err := base64.RawURLEncoding.DecodeString(q)
			require.NoError(t, err)

			m, err := dnswire.Parse(raw)
			require.NoError(t, err)

			require.Len(t, m.Questions, 1)
			assert.Equal(t, strings.TrimSuffix(host, "."), m.Questions[0].Name)
		})
	}
}

func TestEncodeQuery_errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		wantErr error
		name    string
		host    string
	}{{
		wantErr: dnswire.ErrLabelTooLong,
		name:    "long_label",
		host:    strings.Repeat("a", 64),
	}, {
		wantErr: dnswire.ErrEmptyLabel,
		name:    "empty_label",
		host:    "foo..bar",
	}, {
		wantErr: dnswire.ErrEmptyLabel,
		name:    "empty_host",
		host:    "",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := dnswire.EncodeQuery(tc.host, dnswire.TypeA)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	ref := &dns.Msg{}
	ref.SetQuestion("example.com.", dns.TypeA)
	ref.Response = true
	ref.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{
			Name:   "example.com.",
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    300,
		},
		A: []byte{93, 184, 216, 34},
	}, &dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   "www.example.com.",
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    600,
		},
		Target: "example.com.",
	}}
	ref.Ns = []dns.RR{&dns.SOA{
		Hdr: dns.RR_Header{
			Name:   "example.com.",
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    900,
		},
		Ns:      "ns.example.com.",
		Mbox:    "hostmaster.example.com.",
		Serial:  2024010101,
		Refresh: 7200,
		Retry:   3600,
		Expire:  1209600,
		Minttl:  3600,
	}}

	m, err := dnswire.Parse(packMsg(t, ref))
	require.NoError(t, err)

	require.Len(t, m.Questions, 1)
	assert.Equal(t, "example.com", m.Questions[0].Name)

	require.Len(t, m.Answers, 2)

	a := m.Answers[0]
	assert.Equal(t, "example.com", a.Name)
	assert.Equal(t, dnswire.TypeA, a.Type)
	assert.Equal(t, uint32(300), a.TTL)
	assert.Equal(t, int(a.RDLength), len(a.Data))
	assert.Equal(t, dnswire.A{Addr: "93.184.216.34"}, a.Value)

	cname := m.Answers[1]
	assert.Equal(t, "www.example.com", cname.Name)
	assert.Equal(t, dnswire.CNAME{Target: "example.com"}, cname.Value)

	require.Len(t, m.Authorities, 1)
	soa, ok := m.Authorities[0].Value.(dnswire.SOA)
	require.True(t, ok)
	assert.Equal(t, "ns.example.com", soa.MName)
	assert.Equal(t, "hostmaster.example.com", soa.RName)
	assert.Equal(t, uint32(2024010101), soa.Serial)
	assert.Equal(t, uint32(3600), soa.Minimum)
}

func TestParse_typedRData(t *testing.T) {
	t.Parallel()

	hdr := func(typ uint16) (h dns.RR_Header) {
		return dns.RR_Header{
			Name:   "example.com.",
			Rrtype: typ,
			Class:  dns.ClassINET,
			Ttl:    60,
		}
	}

	testCases := []struct {
		rr   dns.RR
		want dnswire.RData
		name string
	}{{
		rr:   &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01}},
		want: dnswire.AAAA{Addr: "2001:db8:0:0:0:0:0:1"},
		name: "aaaa",
	}, {
		rr:   &dns.NS{Hdr: hdr(dns.TypeNS), Ns: "ns1.example.com."},
		want: dnswire.NS{Target: "ns1.example.com"},
		name: "ns",
	}, {
		rr:   &dns.PTR{Hdr: hdr(dns.TypePTR), Ptr: "host.example.com."},
		want: dnswire.PTR{Target: "host.example.com"},
		name: "ptr",
	}, {
		rr:   &dns.MX{Hdr: hdr(dns.TypeMX), Preference: 10, Mx: "mail.example.com."},
		want: dnswire.MX{Preference: 10, Exchange: "mail.example.com"},
		name: "mx",
	}, {
		rr: &dns.SRV{
			Hdr:      hdr(dns.TypeSRV),
			Priority: 1,
			Weight:   5,
			Port:     443,
			Target:   "svc.example.com.",
		},
		want: dnswire.SRV{Priority: 1, Weight: 5, Port: 443, Target: "svc.example.com"},
		name: "srv",
	}, {
		rr:   &dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: []string{"hello"}},
		want: nil,
		name: "unrecognized",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ref := &dns.Msg{}
			ref.SetQuestion("example.com.", dns.TypeA)
			ref.Response = true
			ref.Answer = []dns.RR{tc.rr}

			m, err := dnswire.Parse(packMsg(t, ref))
			require.NoError(t, err)
			require.Len(t, m.Answers, 1)

			assert.Equal(t, tc.want, m.Answers[0].Value)

			// Raw bytes are retained even when no typed value is produced.
			assert.Equal(t, int(m.Answers[0].RDLength), len(m.Answers[0].Data))
		})
	}
}

func TestParse_malformed(t *testing.T) {
	t.Parallel()

	// countHacked returns a valid response with its ANCOUNT header field
	// overwritten.
	countHacked := func(t *testing.T, ancount uint16) (b []byte) {
		t.Helper()

		ref := &dns.Msg{}
		ref.SetQuestion("example.com.", dns.TypeA)
		ref.Response = true

		b = packMsg(t, ref)
		b[6], b[7] = byte(ancount>>8), byte(ancount)

		return b
	}

	t.Run("truncated_header", func(t *testing.T) {
		t.Parallel()

		_, err := dnswire.Parse([]byte{0, 0, 1})
		assert.ErrorIs(t, err, dnswire.ErrTruncated)
	})

	t.Run("excessive_ancount", func(t *testing.T) {
		t.Parallel()

		_, err := dnswire.Parse(countHacked(t, 5000))
		assert.ErrorIs(t, err, dnswire.ErrTooManyRecords)
	})

	t.Run("missing_records", func(t *testing.T) {
		t.Parallel()

		_, err := dnswire.Parse(countHacked(t, 3))
		assert.ErrorIs(t, err, dnswire.ErrTruncated)
	})

	t.Run("compression_loop", func(t *testing.T) {
		t.Parallel()

		b := []byte{
			0, 0, 0x81, 0x80, 0, 1, 0, 0, 0, 0, 0, 0,
			// A name that is a pointer to itself.
			0xc0, 12, 0, 1, 0, 1,
		}

		_, err := dnswire.Parse(b)
		assert.ErrorIs(t, err, dnswire.ErrCompressionLoop)
	})
}

func TestMessage_ContainsName(t *testing.T) {
	t.Parallel()

	ref := &dns.Msg{}
	ref.SetQuestion("blocked.example.", dns.TypeA)
	ref.Response = true
	ref.Answer = []dns.RR{&dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   "blocked.example.",
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    60,
		},
		Target: "hit-block.opendns.com.",
	}}

	m, err := dnswire.Parse(packMsg(t, ref))
	require.NoError(t, err)

	assert.True(t, m.ContainsName("hit-block.opendns.com"))
	assert.True(t, m.ContainsName("HIT-BLOCK.OPENDNS.COM."))
	assert.True(t, m.ContainsName("blocked.example"))
	assert.False(t, m.ContainsName("example.com"))
	assert.False(t, m.ContainsName(""))
}
