package jpcard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/gregLibert/zairyu-nfc/pkg/tlv"
	"golang.org/x/text/encoding/japanese"
)

// DECODING RULES:
// Each data object holds one constructed wrapper record whose children are the fields.
// - Children with a known tag are decoded to a Value according to their kind.
// - Children with any other tag, and top-level records other than the wrapper, are kept
//   as unrecognized TLVRecords and never fail the decode.
// - Text is UTF-8 (My Number Card) or Shift_JIS (Residence Card). A byte sequence that
//   does not decode is an encoding mismatch: no replacement character is ever produced.
// - Trailing NUL, space and ideographic space padding is trimmed.
// - Dates are YYYYMMDD and must exist in the calendar.
// A record is returned only when every required field of every object decoded.

// RawCardBuffer is the reassembled content of one data object, exactly
// Object.DeclaredLength bytes long.
type RawCardBuffer struct {
	Object DataObjectDescriptor
	Data   []byte
}

// Decode decodes the objects read from a card of type ct into a CardRecord.
// Every object of the profile must be present in buffers.
func Decode(ct CardType, buffers []RawCardBuffer) (*CardRecord, error) {
	profile, err := ProfileFor(ct)
	if err != nil {
		return nil, err
	}

	rec := &CardRecord{
		cardType: ct,
		fields:   make(map[FieldID]Value),
	}

	for _, obj := range profile.Objects {
		buf, ok := findBuffer(buffers, obj.Name)
		if !ok {
			return nil, &carderr.DecodeError{Object: obj.Name, Err: carderr.ErrMissingField, Detail: "object not read"}
		}
		if err := decodeObject(profile, obj, buf.Data, rec); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func findBuffer(buffers []RawCardBuffer, name string) (RawCardBuffer, bool) {
	for _, b := range buffers {
		if b.Object.Name == name {
			return b, true
		}
	}
	return RawCardBuffer{}, false
}

func decodeObject(p Profile, obj DataObjectDescriptor, data []byte, rec *CardRecord) error {
	records, err := tlv.Walk(data)
	if err != nil {
		return withObject(err, obj.Name)
	}

	var (
		wrapper *tlv.Record
		found   []TLVRecord
	)
	for i := range records {
		if records[i].Tag == obj.Wrapper && wrapper == nil {
			wrapper = &records[i]
			continue
		}
		found = append(found, newTLVRecord(obj.Name, records[i], false))
	}
	if wrapper == nil {
		return &carderr.DecodeError{Object: obj.Name, Tag: obj.Wrapper, Err: carderr.ErrMissingField, Detail: "wrapper record absent"}
	}

	tmpl := obj.newTemplate()
	if err := tlv.UnmarshalFromPackets(tlv.ToPackets(wrapper.Children), tmpl); err != nil {
		return withObject(err, obj.Name)
	}

	unmapped := make(map[string]bool)
	for _, u := range tmpl.unknown() {
		unmapped[u.Tag] = true
	}
	for _, child := range wrapper.Children {
		found = append(found, newTLVRecord(obj.Name, child, !unmapped[child.Tag]))
	}
	// Offsets are relative to the object, so this restores the order on the chip.
	sort.SliceStable(found, func(i, j int) bool { return found[i].Offset < found[j].Offset })
	rec.records = append(rec.records, found...)

	fields := tmpl.fields()

	for _, f := range fields {
		if f.raw == nil {
			continue
		}

		offset := 0
		if child, ok := tlv.Find(wrapper.Children, f.tag); ok {
			offset = child.Offset
		}

		v, detail, err := decodeValue(f, p.Encoding)
		if err != nil {
			return &carderr.DecodeError{Object: obj.Name, Tag: f.tag, Offset: offset, Err: err, Detail: detail}
		}
		if v.Kind != DateValue && v.Text == "" {
			if f.required {
				return &carderr.DecodeError{Object: obj.Name, Tag: f.tag, Offset: offset, Err: carderr.ErrMissingField, Detail: "empty value"}
			}
			continue
		}
		rec.fields[f.id] = v
	}

	return nil
}

func newTLVRecord(object string, r tlv.Record, recognized bool) TLVRecord {
	return TLVRecord{
		Object:     object,
		Tag:        r.Tag,
		Offset:     r.Offset,
		Value:      append([]byte(nil), r.Value...),
		Recognized: recognized,
	}
}

// withObject names the object in a decode error coming from the tlv package.
func withObject(err error, object string) error {
	var de *carderr.DecodeError
	if errors.As(err, &de) {
		named := *de
		named.Object = object
		return &named
	}
	return &carderr.DecodeError{Object: object, Err: carderr.ErrMalformedLength, Detail: err.Error()}
}

func decodeValue(f rawField, enc TextEncoding) (Value, string, error) {
	switch f.kind {
	case kindText:
		s, err := decodeText(f.raw, enc)
		if err != nil {
			return Value{}, err.Error(), carderr.ErrEncodingMismatch
		}
		return Value{Kind: TextValue, Text: s}, "", nil

	case kindDate:
		s := trimPadding(string(f.raw))
		d, err := parseDate(s)
		if err != nil {
			return Value{}, err.Error(), carderr.ErrEncodingMismatch
		}
		return Value{Kind: DateValue, Date: d}, "", nil

	case kindCardNumber:
		s := trimPadding(string(f.raw))
		if !isAlphanumeric(s) {
			return Value{}, "card number is not alphanumeric ASCII", carderr.ErrEncodingMismatch
		}
		return Value{Kind: CodeValue, Text: s}, "", nil

	case kindDigits:
		s := trimPadding(string(f.raw))
		if !isDigits(s) {
			return Value{}, "card number is not ASCII digits", carderr.ErrEncodingMismatch
		}
		return Value{Kind: CodeValue, Text: s}, "", nil

	default:
		s := trimPadding(string(f.raw))
		if !isPrintableASCII(s) {
			return Value{}, "code is not printable ASCII", carderr.ErrEncodingMismatch
		}
		return Value{Kind: CodeValue, Text: s}, "", nil
	}
}

func decodeText(raw []byte, enc TextEncoding) (string, error) {
	switch enc {
	case ShiftJIS:
		out, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("invalid Shift_JIS: %v", err)
		}
		s := string(out)
		if strings.ContainsRune(s, utf8.RuneError) {
			return "", fmt.Errorf("invalid Shift_JIS sequence")
		}
		return trimPadding(s), nil
	default:
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("invalid UTF-8")
		}
		return trimPadding(string(raw)), nil
	}
}

func trimPadding(s string) string {
	return strings.TrimRight(s, "\x00 \u3000")
}

func parseDate(s string) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("date %q is not YYYYMMDD", s)
	}
	if !isDigits(s) {
		return time.Time{}, fmt.Errorf("date %q is not YYYYMMDD", s)
	}
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q does not exist", s)
	}
	return d, nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}

// DescribeRaw generates a field-by-field dump of the templates of each buffer, before
// value decoding.
func DescribeRaw(buffers []RawCardBuffer) string {
	var sb strings.Builder
	sb.WriteString("=== RAW CARD OBJECTS ===")

	for _, buf := range buffers {
		obj := buf.Object
		sb.WriteString(fmt.Sprintf("\n[%s] %d bytes", obj, len(buf.Data)))

		if obj.newTemplate == nil {
			continue
		}
		records, err := tlv.Walk(buf.Data)
		if err != nil {
			sb.WriteString(fmt.Sprintf("\n    - Walk Failed: %v", err))
			continue
		}
		wrapper, ok := tlv.Find(records, obj.Wrapper)
		if !ok {
			sb.WriteString(fmt.Sprintf("\n    - Wrapper %s not found", obj.Wrapper))
			continue
		}

		tmpl := obj.newTemplate()
		if err := tlv.UnmarshalFromPackets(tlv.ToPackets(wrapper.Children), tmpl); err != nil {
			sb.WriteString(fmt.Sprintf("\n    - Mapping Failed: %v", err))
			continue
		}
		var block strings.Builder
		tlv.WriteStructFields(&block, obj.Name, tmpl)
		if block.Len() > 0 {
			sb.WriteString("\n")
			sb.WriteString(block.String())
		}
	}

	return sb.String()
}
