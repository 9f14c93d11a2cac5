package dnswire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Parse decodes a complete DNS message from b.  Every multi-byte read is
// bounds-checked and fails with [ErrTruncated] instead of reading past the
// buffer, and each section count is capped at [MaxRecordCount] before any
// per-record allocation.  Malformed RDATA of an otherwise well-formed record
// does not abort the parse: the record keeps its raw bytes and a nil typed
// value.
func Parse(b []byte) (m *Message, err error) {
	d := &decoder{buf: b}

	m = &Message{}
	m.ID, err = d.uint16()
	if err != nil {
		return nil, fmt.Errorf("reading id: %w", err)
	}

	m.Flags, err = d.uint16()
	if err != nil {
		return nil, fmt.Errorf("reading flags: %w", err)
	}

	var counts [4]uint16
	for i, name := range [4]string{"qdcount", "ancount", "nscount", "arcount"} {
		counts[i], err = d.uint16()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		if counts[i] > MaxRecordCount {
			return nil, fmt.Errorf("%s is %d: %w", name, counts[i], ErrTooManyRecords)
		}
	}

	m.Questions = make([]Question, 0, counts[0])
	for i := range int(counts[0]) {
		var q Question
		q, err = d.question()
		if err != nil {
			return nil, fmt.Errorf("question at index %d: %w", i, err)
		}

		m.Questions = append(m.Questions, q)
	}

	secs := []struct {
		into  *[]ResourceRecord
		name  string
		count uint16
	}{
		{into: &m.Answers, name: "answer", count: counts[1]},
		{into: &m.Authorities, name: "authority", count: counts[2]},
		{into: &m.Additionals, name: "additional", count: counts[3]},
	}

	for _, sec := range secs {
		*sec.into = make([]ResourceRecord, 0, sec.count)
		for i := range int(sec.count) {
			var rr ResourceRecord
			rr, err = d.resourceRecord()
			if err != nil {
				return nil, fmt.Errorf("%s at index %d: %w", sec.name, i, err)
			}

			*sec.into = append(*sec.into, rr)
		}
	}

	return m, nil
}

// decoder is a cursor over a raw DNS message.
type decoder struct {
	buf []byte
	off int
}

// need returns [ErrTruncated] if fewer than n bytes remain.
func (d *decoder) need(n int) (err error) {
	if d.off+n > len(d.buf) {
		return ErrTruncated
	}

	return nil
}

// uint16 reads a big-endian 16-bit integer.
func (d *decoder) uint16() (v uint16, err error) {
	if err = d.need(2); err != nil {
		return 0, err
	}

	v = binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2

	return v, nil
}

// uint32 reads a big-endian 32-bit integer.
func (d *decoder) uint32() (v uint32, err error) {
	if err = d.need(4); err != nil {
		return 0, err
	}

	v = binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4

	return v, nil
}

// bytes reads n raw bytes.
func (d *decoder) bytes(n int) (b []byte, err error) {
	if err = d.need(n); err != nil {
		return nil, err
	}

	b = d.buf[d.off : d.off+n : d.off+n]
	d.off += n

	return b, nil
}

// pointerMask marks a length byte as a 14-bit compression pointer.
const pointerMask = 0xc0

// name reads a possibly compressed domain name starting at the cursor.  The
// cursor resumes right after the first pointer, if any, or after the
// terminating zero label otherwise.
func (d *decoder) name() (name string, err error) {
	var sb strings.Builder

	// resume is the cursor position to restore after following the first
	// compression pointer.  Negative means no pointer has been followed yet.
	resume := -1

	off := d.off
	jumps, labels := 0, 0

	for {
		if off >= len(d.buf) {
			return "", ErrTruncated
		}

		l := int(d.buf[off])
		switch {
		case l == 0:
			if resume < 0 {
				d.off = off + 1
			} else {
				d.off = resume
			}

			return sb.String(), nil
		case l&pointerMask == pointerMask:
			if off+1 >= len(d.buf) {
				return "", ErrTruncated
			}

			jumps++
			if jumps > maxPointerJumps {
				return "", ErrCompressionLoop
			}

			if resume < 0 {
				resume = off + 2
			}

			off = int(l&^pointerMask)<<8 | int(d.buf[off+1])
		case l&pointerMask != 0:
			// 0x40 and 0x80 label types are not supported.
			return "", fmt.Errorf("label type %#x: %w", l&pointerMask, ErrTruncated)
		default:
			if off+1+l > len(d.buf) {
				return "", ErrTruncated
			}

			labels++
			if labels > maxNameLabels {
				return "", ErrTooManyLabels
			}

			if sb.Len() > 0 {
				sb.WriteByte('.')
			}

			sb.Write(d.buf[off+1 : off+1+l])
			off += 1 + l
		}
	}
}

// question reads one entry of the question section.
func (d *decoder) question() (q Question, err error) {
	q.Name, err = d.name()
	if err != nil {
		return Question{}, fmt.Errorf("reading name: %w", err)
	}

	q.Type, err = d.uint16()
	if err != nil {
		return Question{}, fmt.Errorf("reading type: %w", err)
	}

	q.Class, err = d.uint16()
	if err != nil {
		return Question{}, fmt.Errorf("reading class: %w", err)
	}

	return q, nil
}

// resourceRecord reads one resource record, including its raw RDATA and, for
// recognized types, the typed value.
func (d *decoder) resourceRecord() (rr ResourceRecord, err error) {
	rr.Name, err = d.name()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("reading name: %w", err)
	}

	rr.Type, err = d.uint16()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("reading type: %w", err)
	}

	rr.Class, err = d.uint16()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("reading class: %w", err)
	}

	rr.TTL, err = d.uint32()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("reading ttl: %w", err)
	}

	rr.RDLength, err = d.uint16()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("reading rdlength: %w", err)
	}

	// The typed RDATA may contain compressed names pointing anywhere in the
	// message, so decode it from the current cursor before consuming the raw
	// bytes.
	rdataOff := d.off
	rr.Data, err = d.bytes(int(rr.RDLength))
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("reading rdata: %w", err)
	}

	rr.Value = d.rdata(rr.Type, rdataOff, int(rr.RDLength))

	return rr, nil
}

// rdata decodes the typed value of an RDATA section located at off with the
// given length.  It returns nil for unrecognized types and for malformed data,
// best effort.  The main cursor of d is left untouched.
func (d *decoder) rdata(typ uint16, off, length int) (v RData) {
	sub := &decoder{buf: d.buf, off: off}
	end := off + length

	switch typ {
	case TypeA:
		if length != 4 {
			return nil
		}

		b := d.buf[off:end]

		return A{Addr: fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])}
	case TypeAAAA:
		if length != 16 {
			return nil
		}

		var sb strings.Builder
		for i := off; i < end; i += 2 {
			if i > off {
				sb.WriteByte(':')
			}

			fmt.Fprintf(&sb, "%x", binary.BigEndian.Uint16(d.buf[i:]))
		}

		return AAAA{Addr: sb.String()}
	case TypeCNAME, TypeNS, TypePTR:
		name, err := sub.name()
		if err != nil {
			return nil
		}

		switch typ {
		case TypeNS:
			return NS{Target: name}
		case TypePTR:
			return PTR{Target: name}
		default:
			return CNAME{Target: name}
		}
	case TypeMX:
		return sub.mx()
	case TypeSOA:
		return sub.soa()
	case TypeSRV:
		return sub.srv()
	default:
		return nil
	}
}

// mx decodes MX RDATA.
func (d *decoder) mx() (v RData) {
	pref, err := d.uint16()
	if err != nil {
		return nil
	}

	name, err := d.name()
	if err != nil {
		return nil
	}

	return MX{Preference: pref, Exchange: name}
}

// soa decodes SOA RDATA.  The five trailing integers are decoded as far as the
// data goes, tolerating truncation.
func (d *decoder) soa() (v RData) {
	mname, err := d.name()
	if err != nil {
		return nil
	}

	rname, err := d.name()
	if err != nil {
		return nil
	}

	soa := SOA{MName: mname, RName: rname}
	for _, f := range []*uint32{&soa.Serial, &soa.Refresh, &soa.Retry, &soa.Expire, &soa.Minimum} {
		*f, err = d.uint32()
		if err != nil {
			break
		}
	}

	return soa
}

// srv decodes SRV RDATA.
func (d *decoder) srv() (v RData) {
	srv := SRV{}

	var err error
	for _, f := range []*uint16{&srv.Priority, &srv.Weight, &srv.Port} {
		*f, err = d.uint16()
		if err != nil {
			return nil
		}
	}

	srv.Target, err = d.name()
	if err != nil {
		return nil
	}

	return srv
}
