package jpcard

import (
	"github.com/moov-io/bertlv"
)

// Object templates map the records of each data object to struct fields.
// `fmt` tags drive tlv.WriteStructFields in DescribeRaw.

type template interface {
	fields() []rawField
	unknown() []bertlv.TLV
}

type valueKind int

const (
	kindText valueKind = iota
	kindDate
	kindCode
	kindCardNumber // ASCII letters and digits
	kindDigits     // ASCII digits only
)

// rawField links a template field to its FieldID before value decoding.
type rawField struct {
	id       FieldID
	tag      string
	raw      []byte
	kind     valueKind
	required bool
}

// MyNumberBasicInfo is the content of the My Number Card basic-info object (FF20).
type MyNumberBasicInfo struct {
	Header    []byte `tlv:"DF21"`
	Name      []byte `tlv:"DF22,required" fmt:"utf8"`
	Address   []byte `tlv:"DF23,required" fmt:"utf8"`
	BirthDate []byte `tlv:"DF24,required" fmt:"ascii"`
	Sex       []byte `tlv:"DF25" fmt:"ascii"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

func newMyNumberBasicInfo() template { return &MyNumberBasicInfo{} }

func (t *MyNumberBasicInfo) unknown() []bertlv.TLV { return t.Unknown }

func (t *MyNumberBasicInfo) fields() []rawField {
	return []rawField{
		{id: FieldName, tag: "DF22", raw: t.Name, kind: kindText, required: true},
		{id: FieldAddress, tag: "DF23", raw: t.Address, kind: kindText, required: true},
		{id: FieldBirthDate, tag: "DF24", raw: t.BirthDate, kind: kindDate, required: true},
		{id: FieldSex, tag: "DF25", raw: t.Sex, kind: kindCode},
	}
}

// MyNumberCardInfo is the content of the My Number Card card-info object (FF40).
type MyNumberCardInfo struct {
	CardNumber []byte `tlv:"DF41,required" fmt:"ascii"`
	ExpiryDate []byte `tlv:"DF42,required" fmt:"ascii"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

func newMyNumberCardInfo() template { return &MyNumberCardInfo{} }

func (t *MyNumberCardInfo) unknown() []bertlv.TLV { return t.Unknown }

func (t *MyNumberCardInfo) fields() []rawField {
	return []rawField{
		{id: FieldCardNumber, tag: "DF41", raw: t.CardNumber, kind: kindDigits, required: true},
		{id: FieldExpiryDate, tag: "DF42", raw: t.ExpiryDate, kind: kindDate, required: true},
	}
}

// ZairyuIdentity is the content of the Residence Card identity object (71).
type ZairyuIdentity struct {
	Name        []byte `tlv:"C0,required"`
	BirthDate   []byte `tlv:"C1,required" fmt:"ascii"`
	Sex         []byte `tlv:"C2" fmt:"ascii"`
	Nationality []byte `tlv:"C3,required"`
	Address     []byte `tlv:"C4"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

func newZairyuIdentity() template { return &ZairyuIdentity{} }

func (t *ZairyuIdentity) unknown() []bertlv.TLV { return t.Unknown }

func (t *ZairyuIdentity) fields() []rawField {
	return []rawField{
		{id: FieldName, tag: "C0", raw: t.Name, kind: kindText, required: true},
		{id: FieldBirthDate, tag: "C1", raw: t.BirthDate, kind: kindDate, required: true},
		{id: FieldSex, tag: "C2", raw: t.Sex, kind: kindCode},
		{id: FieldNationality, tag: "C3", raw: t.Nationality, kind: kindText, required: true},
		{id: FieldAddress, tag: "C4", raw: t.Address, kind: kindText},
	}
}

// ZairyuCardInfo is the content of the Residence Card card-info object (72).
type ZairyuCardInfo struct {
	CardNumber      []byte `tlv:"C5,required" fmt:"ascii"`
	ExpiryDate      []byte `tlv:"C6,required" fmt:"ascii"`
	ResidenceStatus []byte `tlv:"C7,required"`
	WorkPermission  []byte `tlv:"C8"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

func newZairyuCardInfo() template { return &ZairyuCardInfo{} }

func (t *ZairyuCardInfo) unknown() []bertlv.TLV { return t.Unknown }

func (t *ZairyuCardInfo) fields() []rawField {
	return []rawField{
		{id: FieldCardNumber, tag: "C5", raw: t.CardNumber, kind: kindCardNumber, required: true},
		{id: FieldExpiryDate, tag: "C6", raw: t.ExpiryDate, kind: kindDate, required: true},
		{id: FieldResidenceStatus, tag: "C7", raw: t.ResidenceStatus, kind: kindText, required: true},
		{id: FieldWorkPermission, tag: "C8", raw: t.WorkPermission, kind: kindText},
	}
}
