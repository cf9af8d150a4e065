package cardsim

import (
	"crypto/sha1"
	"fmt"

	"github.com/moov-io/bertlv"
	"golang.org/x/text/encoding/japanese"

	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
)

// Holder is the printed content of a card. Empty optional fields are left out of the
// encoded objects; dates use jpcard.DateLayout.
type Holder struct {
	Name            string
	BirthDate       string
	Sex             string
	Nationality     string
	Address         string
	CardNumber      string
	ExpiryDate      string
	ResidenceStatus string
	WorkPermission  string
}

// Objects encodes h as the data objects of card type ct, keyed by object name.
func Objects(ct jpcard.CardType, h Holder) (map[string][]byte, error) {
	switch ct {
	case jpcard.MyNumber:
		basic, err := Encode("FF20",
			field("DF21", []byte{0x00, 0x01}),
			field("DF22", []byte(h.Name)),
			field("DF23", []byte(h.Address)),
			field("DF24", []byte(h.BirthDate)),
			field("DF25", []byte(h.Sex)),
		)
		if err != nil {
			return nil, err
		}
		info, err := Encode("FF40",
			field("DF41", []byte(h.CardNumber)),
			field("DF42", []byte(h.ExpiryDate)),
		)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{"basic-info": basic, "card-info": info}, nil

	case jpcard.Zairyu:
		text := make(map[string][]byte)
		for tag, v := range map[string]string{
			"C0": h.Name,
			"C3": h.Nationality,
			"C4": h.Address,
			"C7": h.ResidenceStatus,
			"C8": h.WorkPermission,
		} {
			b, err := ShiftJIS(v)
			if err != nil {
				return nil, fmt.Errorf("cannot encode %s as Shift_JIS: %w", tag, err)
			}
			text[tag] = b
		}

		identity, err := Encode("71",
			field("C0", text["C0"]),
			field("C1", []byte(h.BirthDate)),
			field("C2", []byte(h.Sex)),
			field("C3", text["C3"]),
			field("C4", text["C4"]),
		)
		if err != nil {
			return nil, err
		}
		info, err := Encode("72",
			field("C5", []byte(h.CardNumber)),
			field("C6", []byte(h.ExpiryDate)),
			field("C7", text["C7"]),
			field("C8", text["C8"]),
		)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{"identity": identity, "card-info": info}, nil

	default:
		return nil, fmt.Errorf("unsupported card type %q", string(ct))
	}
}

// ShiftJIS encodes s for a Residence Card text field.
func ShiftJIS(s string) ([]byte, error) {
	return japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
}

// field returns a primitive record, or nil for an empty value.
func field(tag string, value []byte) *bertlv.TLV {
	if len(value) == 0 {
		return nil
	}
	return &bertlv.TLV{Tag: tag, Value: value}
}

// Encode wraps the non-nil fields in a constructed record tagged wrapper.
func Encode(wrapper string, fields ...*bertlv.TLV) ([]byte, error) {
	children := make([]bertlv.TLV, 0, len(fields))
	for _, f := range fields {
		if f != nil {
			children = append(children, *f)
		}
	}
	return bertlv.Encode([]bertlv.TLV{{Tag: wrapper, TLVs: children}})
}

// Sized re-encodes obj with an extra filler record so the object is exactly size bytes.
// The filler uses tag, which should not be known to the decoder.
func Sized(obj []byte, tag string, size int) ([]byte, error) {
	packets, err := bertlv.Decode(obj)
	if err != nil {
		return nil, err
	}
	if len(packets) != 1 {
		return nil, fmt.Errorf("expected one wrapper record, got %d", len(packets))
	}

	for n := 0; n < size; n++ {
		wrapper := packets[0]
		wrapper.TLVs = append(append([]bertlv.TLV(nil), wrapper.TLVs...), bertlv.TLV{Tag: tag, Value: make([]byte, n)})

		out, err := bertlv.Encode([]bertlv.TLV{wrapper})
		if err != nil {
			return nil, err
		}
		if len(out) == size {
			return out, nil
		}
		if len(out) > size {
			break
		}
	}
	return nil, fmt.Errorf("cannot pad a %d-byte object to %d bytes with %s", len(obj), size, tag)
}

// KeyDeriver is the access key scheme of simulated Residence Cards: the first
// jpcard.AccessKeyLength bytes of SHA-1 over the card number. Real cards use another
// scheme; this one only has to agree between the simulator and its callers.
var KeyDeriver jpcard.KeyDeriver = jpcard.KeyDeriverFunc(simulatedAccessKey)

func simulatedAccessKey(id jpcard.CardIdentifier) ([]byte, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("empty identifier")
	}
	sum := sha1.Sum(id.Secret())
	return sum[:jpcard.AccessKeyLength], nil
}

// ForIdentifier creates a card of type ct holding objects and unlocked by identifier.
// Residence Cards are keyed with keys, or KeyDeriver when nil.
func ForIdentifier(ct jpcard.CardType, identifier string, keys jpcard.KeyDeriver, objects map[string][]byte) (*Card, error) {
	profile, err := jpcard.ProfileFor(ct)
	if err != nil {
		return nil, err
	}
	id, err := jpcard.NewCardIdentifier(ct, identifier)
	if err != nil {
		return nil, err
	}

	secret := id.Secret()
	if profile.Auth == jpcard.AuthExternal {
		if keys == nil {
			keys = KeyDeriver
		}
		if secret, err = keys.DeriveKey(id); err != nil {
			return nil, err
		}
	}

	files := make(map[[2]byte][]byte)
	for name, data := range objects {
		obj, ok := profile.Object(name)
		if !ok {
			return nil, fmt.Errorf("%s has no object %q", ct.DisplayName(), name)
		}
		files[obj.FileID] = append([]byte(nil), data...)
	}
	return New(profile, secret, files), nil
}

// Demo identifiers accepted by the cards returned by Demo.
const (
	DemoMyNumberIdentifier = "123456789012"
	DemoZairyuIdentifier   = "AB12345678CD"
)

// DemoHolder returns the sample holder used by Demo.
func DemoHolder(ct jpcard.CardType) Holder {
	if ct == jpcard.Zairyu {
		return Holder{
			Name:            "SMITH JOHN",
			BirthDate:       "19900115",
			Sex:             "M",
			Nationality:     "米国",
			Address:         "東京都千代田区霞が関1-1-1",
			CardNumber:      DemoZairyuIdentifier,
			ExpiryDate:      "20300115",
			ResidenceStatus: "永住者",
			WorkPermission:  "就労制限なし",
		}
	}
	return Holder{
		Name:       "山田 太郎",
		BirthDate:  "19850401",
		Sex:        "1",
		Address:    "東京都千代田区千代田１－１",
		CardNumber: "987654321098",
		ExpiryDate: "20350401",
	}
}

// Demo returns a sample card of type ct and the identifier that unlocks it.
func Demo(ct jpcard.CardType) (*Card, string, error) {
	identifier := DemoMyNumberIdentifier
	if ct == jpcard.Zairyu {
		identifier = DemoZairyuIdentifier
	}

	objects, err := Objects(ct, DemoHolder(ct))
	if err != nil {
		return nil, "", err
	}
	card, err := ForIdentifier(ct, identifier, nil, objects)
	if err != nil {
		return nil, "", err
	}
	return card, identifier, nil
}
