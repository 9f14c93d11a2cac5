package provider

import (
	"bytes"

	"github.com/fcchbjm/webguard/dnswire"
)

// Signature is a detection rule matching a filtering resolver's
// blocked-response shape.  msg is the parsed message for binary responses and
// nil for JSON responses; raw is the raw response body in both cases.
//
// The concrete signatures are externally observed response shapes of each
// resolver.  They are heuristics and may break silently if an upstream changes
// its blocking behavior.
type Signature interface {
	Match(msg *dnswire.Message, raw []byte) (ok bool)
}

// ByteSeq matches responses containing an exact byte sequence anywhere in the
// raw body.
type ByteSeq []byte

// type check
var _ Signature = ByteSeq(nil)

// Match implements the [Signature] interface for ByteSeq.
func (s ByteSeq) Match(_ *dnswire.Message, raw []byte) (ok bool) {
	return len(s) > 0 && bytes.Contains(raw, s)
}

// FlagByte matches responses whose byte at Index equals Value.  Index 3 is the
// low header flag byte, whose low nibble is the response code.
type FlagByte struct {
	Index int
	Value byte
}

// type check
var _ Signature = FlagByte{}

// Match implements the [Signature] interface for FlagByte.
func (s FlagByte) Match(_ *dnswire.Message, raw []byte) (ok bool) {
	return s.Index < len(raw) && raw[s.Index] == s.Value
}

// JSONSubstring matches JSON responses containing the literal substring.
type JSONSubstring string

// type check
var _ Signature = JSONSubstring("")

// Match implements the [Signature] interface for JSONSubstring.
func (s JSONSubstring) Match(_ *dnswire.Message, raw []byte) (ok bool) {
	return s != "" && bytes.Contains(raw, []byte(s))
}

// SinkholeName matches responses mentioning the resolver's sinkhole hostname
// in any resource record, either as an owner name or inside name-bearing
// record data.
type SinkholeName string

// type check
var _ Signature = SinkholeName("")

// Match implements the [Signature] interface for SinkholeName.
func (s SinkholeName) Match(msg *dnswire.Message, _ []byte) (ok bool) {
	return msg != nil && msg.ContainsName(string(s))
}
