package tlv

import (
	"fmt"

	"github.com/gregLibert/zairyu-nfc/pkg/bits"
	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/moov-io/bertlv"
)

// BER-TLV STRUCTURE (ISO 7816-4 / X.690):
//
// TAG:
// - Bits 5-1 of the first byte all set ('1F') announce subsequent tag bytes.
// - Each subsequent byte with bit 8 set announces one more.
// - Bit 6 of the first byte marks a constructed object whose value is itself TLV.
//
// LENGTH:
// - '00'-'7F': the length itself.
// - '81 XX':    one length byte (up to 255).
// - '82 XXXX':  two length bytes (up to 65535).
// - '80' (indefinite) and '83' and above are rejected: a card object never needs them.
//
// '00' bytes between records are padding and are skipped.

// MaxHeaderLength is the longest header Walk accepts: 3 tag bytes and 3 length bytes.
const MaxHeaderLength = 6

// Header is the decoded tag and length of one record.
type Header struct {
	Tag         string // Upper-case hex, e.g. "DF22"
	Constructed bool
	Length      int // Number of header bytes (tag + length fields)
	ValueLength int
}

// TotalLength is the size of the whole record: header plus value.
func (h Header) TotalLength() int {
	return h.Length + h.ValueLength
}

// Record is one decoded TLV with its position in the enclosing object.
type Record struct {
	Header
	Offset   int // Offset of the tag byte from the start of the walked buffer
	Value    []byte
	Children []Record // Set for constructed records
}

// ParseHeader decodes the tag and length at the start of data.
// Errors are *carderr.DecodeError wrapping ErrTruncatedRecord, ErrMalformedTag or
// ErrMalformedLength.
func ParseHeader(data []byte) (Header, error) {
	return parseHeader(data, 0)
}

func parseHeader(data []byte, base int) (Header, error) {
	var h Header

	if len(data) == 0 {
		return h, truncated(base, "", "no tag byte")
	}

	pos := 1
	if data[0]&0x1F == 0x1F {
		for {
			if pos >= len(data) {
				return h, truncated(base, "", "tag continues past end of data")
			}
			b := data[pos]
			pos++
			if b&0x80 == 0 {
				break
			}
			if pos >= 3 {
				return h, &carderr.DecodeError{
					Offset: base,
					Err:    carderr.ErrMalformedTag,
					Detail: "tag longer than 3 bytes",
				}
			}
		}
	}

	h.Tag = fmt.Sprintf("%X", data[:pos])
	h.Constructed = data[0]&0x20 != 0

	if pos >= len(data) {
		return h, truncated(base, h.Tag, "missing length byte")
	}

	first := data[pos]
	pos++

	switch {
	case first < 0x80:
		h.ValueLength = int(first)
	case first == 0x80:
		return h, &carderr.DecodeError{Tag: h.Tag, Offset: base, Err: carderr.ErrMalformedLength, Detail: "indefinite length"}
	case first == 0x81 || first == 0x82:
		n := int(first & 0x7F)
		if pos+n > len(data) {
			return h, truncated(base, h.Tag, "length field past end of data")
		}
		h.ValueLength, _ = bits.BigEndian(data[pos : pos+n])
		pos += n
	default:
		return h, &carderr.DecodeError{
			Tag:    h.Tag,
			Offset: base,
			Err:    carderr.ErrMalformedLength,
			Detail: fmt.Sprintf("length form %02X not supported", first),
		}
	}

	h.Length = pos
	return h, nil
}

// Walk decodes every record of data, descending into constructed records.
// The walk is strict: a record whose declared length runs past its container fails with
// ErrTruncatedRecord, and nothing is returned for a partially valid buffer.
func Walk(data []byte) ([]Record, error) {
	return walk(data, 0)
}

func walk(data []byte, base int) ([]Record, error) {
	var records []Record

	pos := 0
	for pos < len(data) {
		if data[pos] == 0x00 {
			pos++
			continue
		}

		h, err := parseHeader(data[pos:], base+pos)
		if err != nil {
			return nil, err
		}

		end := pos + h.TotalLength()
		if end > len(data) {
			return nil, truncated(base+pos, h.Tag,
				fmt.Sprintf("declared %d value bytes, %d available", h.ValueLength, len(data)-pos-h.Length))
		}

		rec := Record{
			Header: h,
			Offset: base + pos,
			Value:  data[pos+h.Length : end],
		}

		if h.Constructed {
			children, err := walk(rec.Value, rec.Offset+h.Length)
			if err != nil {
				return nil, err
			}
			rec.Children = children
		}

		records = append(records, rec)
		pos = end
	}

	return records, nil
}

// Find returns the first top-level record with the given tag.
func Find(records []Record, tag string) (Record, bool) {
	for _, r := range records {
		if r.Tag == tag {
			return r, true
		}
	}
	return Record{}, false
}

// ToPackets converts walked records to the bertlv representation consumed by
// UnmarshalFromPackets.
func ToPackets(records []Record) []bertlv.TLV {
	packets := make([]bertlv.TLV, 0, len(records))
	for _, r := range records {
		p := bertlv.TLV{Tag: r.Tag, Value: r.Value}
		if r.Constructed {
			p.TLVs = ToPackets(r.Children)
		}
		packets = append(packets, p)
	}
	return packets
}

func truncated(offset int, tag, detail string) error {
	return &carderr.DecodeError{Tag: tag, Offset: offset, Err: carderr.ErrTruncatedRecord, Detail: detail}
}
