package jpcard

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FieldID names a decoded field of a card.
type FieldID string

const (
	FieldName            FieldID = "name"
	FieldBirthDate       FieldID = "birth_date"
	FieldSex             FieldID = "sex"
	FieldNationality     FieldID = "nationality"
	FieldAddress         FieldID = "address"
	FieldCardNumber      FieldID = "card_number"
	FieldExpiryDate      FieldID = "expiry_date"
	FieldResidenceStatus FieldID = "residence_status"
	FieldWorkPermission  FieldID = "work_permission"
)

// fieldOrder is the order of fields in reports.
var fieldOrder = []FieldID{
	FieldName,
	FieldBirthDate,
	FieldSex,
	FieldNationality,
	FieldAddress,
	FieldCardNumber,
	FieldExpiryDate,
	FieldResidenceStatus,
	FieldWorkPermission,
}

var fieldLabels = map[FieldID]string{
	FieldName:            "Name",
	FieldBirthDate:       "Date of Birth",
	FieldSex:             "Sex",
	FieldNationality:     "Nationality/Region",
	FieldAddress:         "Address",
	FieldCardNumber:      "Card Number",
	FieldExpiryDate:      "Expiry Date",
	FieldResidenceStatus: "Status of Residence",
	FieldWorkPermission:  "Work Permission",
}

// Label is the human name of the field.
func (f FieldID) Label() string {
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}

// ValueKind tells which member of a Value is set.
type ValueKind int

const (
	TextValue ValueKind = iota
	DateValue
	CodeValue
)

// DateLayout is the layout of card dates.
const DateLayout = "20060102"

// Value is a decoded field value: text, date or code.
type Value struct {
	Kind ValueKind
	Text string    // Set for TextValue and CodeValue
	Date time.Time // Set for DateValue, midnight UTC
}

func (v Value) String() string {
	if v.Kind == DateValue {
		return v.Date.Format("2006-01-02")
	}
	return v.Text
}

// TLVRecord is one record of a data object as found on the chip.
type TLVRecord struct {
	Object     string
	Tag        string
	Offset     int
	Value      []byte
	Recognized bool
}

// CardRecord is the decoded content of a card. It is immutable: accessors return copies.
type CardRecord struct {
	cardType CardType
	fields   map[FieldID]Value
	records  []TLVRecord
}

// CardType returns the type of the card the record was read from.
func (r *CardRecord) CardType() CardType {
	return r.cardType
}

// Field returns the value of id, if the card holds it.
func (r *CardRecord) Field(id FieldID) (Value, bool) {
	v, ok := r.fields[id]
	return v, ok
}

// Text returns the string form of id, or "" if absent.
func (r *CardRecord) Text(id FieldID) string {
	return r.fields[id].String()
}

// Date returns the date value of id.
func (r *CardRecord) Date(id FieldID) (time.Time, bool) {
	v, ok := r.fields[id]
	if !ok || v.Kind != DateValue {
		return time.Time{}, false
	}
	return v.Date, true
}

// Fields lists the fields present, in report order.
func (r *CardRecord) Fields() []FieldID {
	var ids []FieldID
	for _, id := range fieldOrder {
		if _, ok := r.fields[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Records returns every TLV record of every object, in chip order.
func (r *CardRecord) Records() []TLVRecord {
	out := make([]TLVRecord, len(r.records))
	for i, rec := range r.records {
		rec.Value = append([]byte(nil), rec.Value...)
		out[i] = rec
	}
	return out
}

// Unrecognized returns the records outside the known tag set.
func (r *CardRecord) Unrecognized() []TLVRecord {
	var out []TLVRecord
	for _, rec := range r.Records() {
		if !rec.Recognized {
			out = append(out, rec)
		}
	}
	return out
}

// Describe generates a report of the decoded fields followed by the unrecognized records.
func (r *CardRecord) Describe() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== %s RECORD ===", strings.ToUpper(r.cardType.DisplayName())))

	for _, id := range r.Fields() {
		sb.WriteString(fmt.Sprintf("\n    - %s: %s", id.Label(), r.fields[id]))
	}

	for _, rec := range r.Unrecognized() {
		sb.WriteString(fmt.Sprintf("\n    - %s.Unknown Tag %s (offset %d): %X", rec.Object, rec.Tag, rec.Offset, rec.Value))
	}

	return sb.String()
}

type jsonRecord struct {
	Object string `json:"object"`
	Tag    string `json:"tag"`
	Offset int    `json:"offset"`
	Value  string `json:"value"`
}

type jsonCard struct {
	CardType     CardType           `json:"card_type"`
	Fields       map[FieldID]string `json:"fields"`
	Unrecognized []jsonRecord       `json:"unrecognized,omitempty"`
}

// MarshalJSON renders the fields as strings (dates as YYYY-MM-DD) and unrecognized
// records as hex.
func (r *CardRecord) MarshalJSON() ([]byte, error) {
	out := jsonCard{
		CardType: r.cardType,
		Fields:   make(map[FieldID]string, len(r.fields)),
	}
	for id, v := range r.fields {
		out.Fields[id] = v.String()
	}
	for _, rec := range r.Unrecognized() {
		out.Unrecognized = append(out.Unrecognized, jsonRecord{
			Object: rec.Object,
			Tag:    rec.Tag,
			Offset: rec.Offset,
			Value:  strings.ToUpper(hex.EncodeToString(rec.Value)),
		})
	}
	return json.Marshal(out)
}
