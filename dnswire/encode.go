package dnswire

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// queryFlags is the header flags word of an encoded query: a standard query
// with recursion desired.
const queryFlags uint16 = 0x0100

// headerLen is the length of the fixed DNS message header.
const headerLen = 12

// EncodeQuery builds a single-question DNS query for hostname and returns it
// encoded with unpadded base64url, ready to be used as the "dns" parameter of
// a DoH GET request.  The message ID is zero, as RFC 8484 recommends for cache
// friendliness.  qtype is usually [TypeA].
func EncodeQuery(hostname string, qtype uint16) (q string, err error) {
	raw, err := AppendQuery(nil, hostname, qtype)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// AppendQuery appends the wire form of a single-question query for hostname to
// b and returns the extended slice.
func AppendQuery(b []byte, hostname string, qtype uint16) (ext []byte, err error) {
	hostname = strings.TrimSuffix(hostname, ".")

	ext = b
	ext = binary.BigEndian.AppendUint16(ext, 0)
	ext = binary.BigEndian.AppendUint16(ext, queryFlags)
	ext = binary.BigEndian.AppendUint16(ext, 1)
	ext = binary.BigEndian.AppendUint16(ext, 0)
	ext = binary.BigEndian.AppendUint16(ext, 0)
	ext = binary.BigEndian.AppendUint16(ext, 0)

	for _, label := range strings.Split(hostname, ".") {
		l := len(label)
		switch {
		case l == 0:
			return nil, fmt.Errorf("encoding name %q: %w", hostname, ErrEmptyLabel)
		case l > maxLabelLen:
			return nil, fmt.Errorf("encoding name %q: %w", hostname, ErrLabelTooLong)
		}

		ext = append(ext, byte(l))
		ext = append(ext, label...)
	}

	ext = append(ext, 0)
	ext = binary.BigEndian.AppendUint16(ext, qtype)
	ext = binary.BigEndian.AppendUint16(ext, ClassIN)

	return ext, nil
}
