// Package dnswire implements a small binary DNS message codec used to build
// DNS-over-HTTPS queries and to interpret filtering resolvers' responses.
//
// The codec is deliberately narrow.  It encodes a single-question query and
// decodes full messages with bounds-checked reads, capped record counts, and
// loop-proof name decompression.  RDATA is decoded on a best-effort basis:
// recognized types yield a typed value, everything else keeps only the raw
// bytes.
package dnswire

import (
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// Resource record types decoded by this package.
const (
	TypeA     uint16 = 1
	TypeNS    uint16 = 2
	TypeCNAME uint16 = 5
	TypeSOA   uint16 = 6
	TypePTR   uint16 = 12
	TypeMX    uint16 = 15
	TypeAAAA  uint16 = 28
	TypeSRV   uint16 = 33
)

// ClassIN is the Internet class, the only class this codec produces.
const ClassIN uint16 = 1

// Limits rejecting pathological inputs before any per-record allocation.
const (
	// MaxRecordCount is the maximum accepted value of any of the four header
	// section counts.
	MaxRecordCount = 1000

	// maxPointerJumps is the maximum number of compression pointers followed
	// while decoding a single name.
	maxPointerJumps = 50

	// maxNameLabels is the maximum number of labels in a single name.
	maxNameLabels = 127

	// maxLabelLen is the maximum length of a single label, per RFC 1035.
	maxLabelLen = 63
)

// Errors returned by the codec.
const (
	// ErrLabelTooLong is returned from [EncodeQuery] when a hostname label
	// exceeds [maxLabelLen] bytes.
	ErrLabelTooLong errors.Error = "label exceeds 63 bytes"

	// ErrEmptyLabel is returned from [EncodeQuery] when a hostname contains an
	// empty label.
	ErrEmptyLabel errors.Error = "empty label"

	// ErrTruncated is returned from [Parse] when the message ends before a
	// required field.
	ErrTruncated errors.Error = "unexpected end of message"

	// ErrTooManyRecords is returned from [Parse] when a header section count
	// exceeds [MaxRecordCount].
	ErrTooManyRecords errors.Error = "section count exceeds sanity cap"

	// ErrCompressionLoop is returned from [Parse] when name decompression
	// doesn't terminate within the pointer-jump bound.
	ErrCompressionLoop errors.Error = "compression pointer loop"

	// ErrTooManyLabels is returned from [Parse] when a name contains more than
	// [maxNameLabels] labels.
	ErrTooManyLabels errors.Error = "too many labels in name"
)

// Message is the parse result of a single DNS message.
type Message struct {
	// Questions, Answers, Authorities, and Additionals are the four record
	// sections, in wire order.
	Questions   []Question
	Answers     []ResourceRecord
	Authorities []ResourceRecord
	Additionals []ResourceRecord

	// ID is the message identifier.
	ID uint16

	// Flags is the raw second 16-bit word of the header.
	Flags uint16
}

// RCode returns the response code bits of the header flags.
func (m *Message) RCode() (rc uint8) { return uint8(m.Flags & 0x000f) }

// Question is a single entry of the question section.
type Question struct {
	// Name is the decompressed query name without the trailing dot.
	Name string

	// Type and Class are the query type and class.
	Type  uint16
	Class uint16
}

// ResourceRecord is a single resource record of any of the three answer
// sections.
type ResourceRecord struct {
	// Value is the typed RDATA, or nil if the type is unrecognized or its
	// RDATA was malformed.
	Value RData

	// Name is the decompressed owner name without the trailing dot.
	Name string

	// Data is the raw RDATA.  Its length always equals RDLength.
	Data []byte

	// TTL is the time-to-live, in seconds.
	TTL uint32

	// Type and Class are the record type and class.
	Type  uint16
	Class uint16

	// RDLength is the declared RDATA length.
	RDLength uint16
}

// RData is a typed representation of a resource record's data.  The concrete
// types are [A], [AAAA], [CNAME], [NS], [PTR], [MX], [SOA], and [SRV].
type RData interface {
	// names returns the domain names carried by the RDATA, if any.
	names() (names []string)
}

// A is the RDATA of an A record.
type A struct {
	// Addr is the dotted-quad text form of the address.
	Addr string
}

// names implements the [RData] interface for A.
func (A) names() (names []string) { return nil }

// AAAA is the RDATA of an AAAA record.
type AAAA struct {
	// Addr is the colon-hex text form of the address.
	Addr string
}

// names implements the [RData] interface for AAAA.
func (AAAA) names() (names []string) { return nil }

// CNAME is the RDATA of a CNAME record.
type CNAME struct {
	// Target is the canonical name.
	Target string
}

// names implements the [RData] interface for CNAME.
func (c CNAME) names() (names []string) { return []string{c.Target} }

// NS is the RDATA of an NS record.
type NS struct {
	// Target is the name server name.
	Target string
}

// names implements the [RData] interface for NS.
func (n NS) names() (names []string) { return []string{n.Target} }

// PTR is the RDATA of a PTR record.
type PTR struct {
	// Target is the pointed-to name.
	Target string
}

// names implements the [RData] interface for PTR.
func (p PTR) names() (names []string) { return []string{p.Target} }

// MX is the RDATA of an MX record.
type MX struct {
	// Exchange is the mail exchange name.
	Exchange string

	// Preference is the exchange preference.
	Preference uint16
}

// names implements the [RData] interface for MX.
func (m MX) names() (names []string) { return []string{m.Exchange} }

// SOA is the RDATA of an SOA record.  Trailing integer fields missing from a
// truncated RDATA are left zero.
type SOA struct {
	// MName and RName are the primary name server and the responsible mailbox.
	MName string
	RName string

	// Serial, Refresh, Retry, Expire, and Minimum are the zone timers.
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// names implements the [RData] interface for SOA.
func (s SOA) names() (names []string) { return []string{s.MName, s.RName} }

// SRV is the RDATA of an SRV record.
type SRV struct {
	// Target is the service host name.
	Target string

	// Priority, Weight, and Port are the service selection fields.
	Priority uint16
	Weight   uint16
	Port     uint16
}

// names implements the [RData] interface for SRV.
func (s SRV) names() (names []string) { return []string{s.Target} }

// ContainsName reports whether domain appears as the owner name of any
// resource record of m or within any name-bearing RDATA field.  The comparison
// ignores case and trailing dots.  It is used to detect sinkhole responses,
// where a filtering resolver rewrites the answer to point at its own block
// page.
func (m *Message) ContainsName(domain string) (ok bool) {
	want := canonicalName(domain)
	if want == "" {
		return false
	}

	for _, rrs := range [][]ResourceRecord{m.Answers, m.Authorities, m.Additionals} {
		for _, rr := range rrs {
			if canonicalName(rr.Name) == want {
				return true
			}

			if rr.Value == nil {
				continue
			}

			for _, n := range rr.Value.names() {
				if canonicalName(n) == want {
					return true
				}
			}
		}
	}

	return false
}

// canonicalName lowercases s and strips any trailing dots.
func canonicalName(s string) (c string) {
	return strings.ToLower(strings.TrimRight(s, "."))
}
