package jpcard

import (
	"fmt"

	"github.com/gregLibert/zairyu-nfc/pkg/tlv"
)

// AuthMethod is the command used to present the card identifier to the chip.
type AuthMethod int

const (
	// AuthVerify sends the identifier itself with VERIFY.
	AuthVerify AuthMethod = iota
	// AuthExternal sends a key derived from the identifier with EXTERNAL AUTHENTICATE.
	AuthExternal
)

func (m AuthMethod) String() string {
	switch m {
	case AuthVerify:
		return "VERIFY"
	case AuthExternal:
		return "EXTERNAL AUTHENTICATE"
	default:
		return fmt.Sprintf("AuthMethod(%d)", int(m))
	}
}

// TextEncoding is the character set of the card's text fields.
type TextEncoding int

const (
	UTF8 TextEncoding = iota
	ShiftJIS
)

func (e TextEncoding) String() string {
	if e == ShiftJIS {
		return "Shift_JIS"
	}
	return "UTF-8"
}

// DataObjectDescriptor identifies one elementary file holding a TLV object.
// DeclaredLength is zero until the header of the object has been read.
type DataObjectDescriptor struct {
	Name           string
	FileID         [2]byte
	Wrapper        string // Tag of the constructed record enclosing the fields
	DeclaredLength int

	newTemplate func() template
}

func (d DataObjectDescriptor) String() string {
	return fmt.Sprintf("%s (EF %02X%02X)", d.Name, d.FileID[0], d.FileID[1])
}

// WithLength returns a copy of d carrying the length discovered from its header.
func (d DataObjectDescriptor) WithLength(n int) DataObjectDescriptor {
	d.DeclaredLength = n
	return d
}

// Profile is everything needed to read one card type.
type Profile struct {
	Type          CardType
	AID           []byte
	Auth          AuthMethod
	AuthReference byte // P2 of the authentication command
	Encoding      TextEncoding
	Objects       []DataObjectDescriptor
}

var profiles = map[CardType]Profile{
	MyNumber: {
		Type:          MyNumber,
		AID:           tlv.Hex("D3 92 10 00 31 00 01 01 04 08"),
		Auth:          AuthVerify,
		AuthReference: 0x80,
		Encoding:      UTF8,
		Objects: []DataObjectDescriptor{
			{Name: "basic-info", FileID: [2]byte{0x00, 0x02}, Wrapper: "FF20", newTemplate: newMyNumberBasicInfo},
			{Name: "card-info", FileID: [2]byte{0x00, 0x01}, Wrapper: "FF40", newTemplate: newMyNumberCardInfo},
		},
	},
	Zairyu: {
		Type:          Zairyu,
		AID:           tlv.Hex("D3 92 F0 00 4F 02 00 00 00 00 00 00 00 00 00 00"),
		Auth:          AuthExternal,
		AuthReference: 0x00,
		Encoding:      ShiftJIS,
		Objects: []DataObjectDescriptor{
			{Name: "identity", FileID: [2]byte{0x00, 0x01}, Wrapper: "71", newTemplate: newZairyuIdentity},
			{Name: "card-info", FileID: [2]byte{0x00, 0x02}, Wrapper: "72", newTemplate: newZairyuCardInfo},
		},
	},
}

// ProfileFor returns the profile of ct. The returned profile shares no slices with the
// package tables.
func ProfileFor(ct CardType) (Profile, error) {
	p, ok := profiles[ct]
	if !ok {
		return Profile{}, fmt.Errorf("no profile for card type %q", string(ct))
	}

	p.AID = append([]byte(nil), p.AID...)
	p.Objects = append([]DataObjectDescriptor(nil), p.Objects...)
	return p, nil
}

// Object returns the descriptor named name.
func (p Profile) Object(name string) (DataObjectDescriptor, bool) {
	for _, o := range p.Objects {
		if o.Name == name {
			return o, true
		}
	}
	return DataObjectDescriptor{}, false
}
