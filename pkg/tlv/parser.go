// Package tlv provides high-level utilities for parsing and mapping BER-TLV
// (Basic Encoding Rules - Tag-Length-Value) data into Go structures using struct tags.
//
// Card objects are first checked with Walk, which reports truncation and malformed
// lengths with their offset, then mapped onto a template struct:
//
//	type BasicInfo struct {
//		Name    []byte       `tlv:"DF22,required" fmt:"utf8"`
//		Sex     []byte       `tlv:"DF25"`
//		Unknown []bertlv.TLV `tlv:",unknown"`
//	}
//
// Tagged fields are []byte and receive the raw value; when a tag occurs more than once
// the last occurrence wins. A field marked required whose tag is absent fails with
// carderr.ErrMissingField. Tags without a field are kept in the unknown field, or
// dropped when there is none.
package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/moov-io/bertlv"
)

var unknownType = reflect.TypeOf([]bertlv.TLV{})

// UnmarshalFromPackets maps a slice of pre-decoded bertlv.TLV objects to a target struct.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct")
	}
	v = v.Elem()
	t := v.Type()

	consumed := make(map[int]bool)
	var unknown reflect.Value

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		tagConfig := fieldType.Tag.Get("tlv")

		if tagConfig == ",unknown" || (tagConfig == "" && fieldType.Name == "Unknown") {
			if field.Type() != unknownType {
				return fmt.Errorf("field %s: unknown records need []bertlv.TLV", fieldType.Name)
			}
			unknown = field
			continue
		}
		if tagConfig == "" {
			continue
		}
		if !isByteSlice(field) {
			return fmt.Errorf("field %s: tagged fields must be []byte, not %s", fieldType.Name, field.Type())
		}

		tagHex, required := parseTagConfig(tagConfig)
		found := false

		for idx, packet := range packets {
			if strings.ToUpper(packet.Tag) == tagHex {
				field.SetBytes(rawValue(packet))
				consumed[idx] = true
				found = true
			}
		}

		if required && !found {
			return &carderr.DecodeError{Tag: tagHex, Err: carderr.ErrMissingField, Detail: fieldType.Name}
		}
	}

	if !unknown.IsValid() || !unknown.CanSet() {
		return nil
	}
	var leftovers []bertlv.TLV
	for idx, packet := range packets {
		if !consumed[idx] {
			leftovers = append(leftovers, packet)
		}
	}
	if len(leftovers) > 0 {
		unknown.Set(reflect.ValueOf(leftovers))
	}
	return nil
}

// parseTagConfig splits a `tlv:"DF22,required"` struct tag into the tag and its options.
func parseTagConfig(config string) (tag string, required bool) {
	parts := strings.Split(config, ",")
	for _, opt := range parts[1:] {
		if opt == "required" {
			required = true
		}
	}
	return strings.ToUpper(parts[0]), required
}

// rawValue is the value of p as stored on the card; constructed values are re-encoded.
func rawValue(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}
