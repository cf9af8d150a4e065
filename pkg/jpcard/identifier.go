package jpcard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
)

// CARD IDENTIFIER:
// The code printed on the card that unlocks the chip.
// - My Number Card: the 12-digit card-info input support PIN, sent as is.
// - Residence Card: the card number (2 letters, 8 digits, 2 letters), from which the
//   access key is derived.
//
// The value is only reachable through Secret(). String(), GoString() and the errors
// built here never contain it.

var (
	myNumberPattern = regexp.MustCompile(`^[0-9]{12}$`)
	zairyuPattern   = regexp.MustCompile(`^[A-Z]{2}[0-9]{8}[A-Z]{2}$`)
)

// CardIdentifier is a format-checked, normalised card identifier.
type CardIdentifier struct {
	cardType CardType
	value    string
}

// NewCardIdentifier checks raw against the format of the card type and normalises it.
// The returned error is a *carderr.AuthError wrapping ErrInvalidIdentifierFormat.
func NewCardIdentifier(ct CardType, raw string) (CardIdentifier, error) {
	value := strings.TrimSpace(raw)

	var (
		pattern *regexp.Regexp
		shape   string
	)
	switch ct {
	case MyNumber:
		pattern, shape = myNumberPattern, "12 digits"
	case Zairyu:
		value = strings.ToUpper(value)
		pattern, shape = zairyuPattern, "2 letters, 8 digits, 2 letters"
	default:
		return CardIdentifier{}, &carderr.AuthError{
			Step:        "identifier",
			RetriesLeft: -1,
			Reason:      fmt.Sprintf("unsupported card type %q", string(ct)),
			Err:         carderr.ErrInvalidIdentifierFormat,
		}
	}

	if !pattern.MatchString(value) {
		return CardIdentifier{}, &carderr.AuthError{
			Step:        "identifier",
			RetriesLeft: -1,
			Reason:      fmt.Sprintf("expected %s, got %d characters", shape, len(value)),
			Err:         carderr.ErrInvalidIdentifierFormat,
		}
	}

	return CardIdentifier{cardType: ct, value: value}, nil
}

// CardType returns the card type the identifier was checked against.
func (id CardIdentifier) CardType() CardType {
	return id.cardType
}

// Secret returns the identifier bytes. Callers must not log or store them.
func (id CardIdentifier) Secret() []byte {
	return []byte(id.value)
}

// IsZero reports whether id was never successfully built.
func (id CardIdentifier) IsZero() bool {
	return id.value == ""
}

func (id CardIdentifier) String() string {
	return strings.Repeat("*", len(id.value))
}

func (id CardIdentifier) GoString() string {
	return fmt.Sprintf("jpcard.CardIdentifier{%s, %s}", id.cardType, id.String())
}

// AccessKeyLength is the size of the Residence Card access key.
const AccessKeyLength = 16

// KeyDeriver computes the Residence Card access key from its identifier.
// No deriver ships with this package: the Residence Card scheme is supplied by the
// caller, and authenticating a Residence Card without one fails with ErrKeyDerivation.
type KeyDeriver interface {
	DeriveKey(id CardIdentifier) ([]byte, error)
}

// KeyDeriverFunc adapts a function to KeyDeriver.
type KeyDeriverFunc func(id CardIdentifier) ([]byte, error)

func (f KeyDeriverFunc) DeriveKey(id CardIdentifier) ([]byte, error) {
	return f(id)
}
