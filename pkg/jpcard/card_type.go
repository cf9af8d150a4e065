// Package jpcard describes the Japanese identity cards read by this module: the My Number
// Card and the Residence Card (Zairyu Card).
//
// A Profile lists, for one card type, the application to select, the way the card
// identifier authenticates the session and the data objects holding the holder's data.
// Decode turns the raw objects read from the chip into an immutable CardRecord.
package jpcard

import (
	"fmt"
	"strings"
)

// CardType selects the application, the authentication scheme and the tag set.
type CardType string

const (
	MyNumber CardType = "mynumber"
	Zairyu   CardType = "zairyu"
)

// CardTypes lists the supported card types in display order.
var CardTypes = []CardType{MyNumber, Zairyu}

// ParseCardType accepts the canonical names and a few common aliases.
func ParseCardType(s string) (CardType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mynumber", "my-number", "my_number", "individual-number":
		return MyNumber, nil
	case "zairyu", "residence", "residence-card":
		return Zairyu, nil
	default:
		return "", fmt.Errorf("unknown card type %q (expected one of: mynumber, zairyu)", s)
	}
}

func (c CardType) String() string {
	return string(c)
}

// DisplayName is the card's name as printed in reports.
func (c CardType) DisplayName() string {
	switch c {
	case MyNumber:
		return "My Number Card"
	case Zairyu:
		return "Residence Card"
	default:
		return fmt.Sprintf("Unknown Card (%s)", string(c))
	}
}
