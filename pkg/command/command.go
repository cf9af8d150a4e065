// Package command builds the APDUs of an acquisition for one card profile.
//
// A Builder is a value: every method is a pure function of the profile and its
// arguments, so the same inputs always give byte-identical commands.
package command

import (
	"fmt"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/gregLibert/zairyu-nfc/pkg/iso7816"
	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
)

// MaxChunkLength is the largest READ BINARY answer in Short Length mode.
const MaxChunkLength = iso7816.MaxShortLe

// Builder produces the commands for one card type.
type Builder struct {
	Profile jpcard.Profile
	Class   iso7816.Class
	Keys    jpcard.KeyDeriver
}

// New creates a Builder on the basic channel. keys may be nil for cards authenticated
// with VERIFY.
func New(profile jpcard.Profile, keys jpcard.KeyDeriver) Builder {
	return Builder{Profile: profile, Class: iso7816.DefaultClass, Keys: keys}
}

// SelectApplication selects the card application by AID.
func (b Builder) SelectApplication() *iso7816.CommandAPDU {
	return iso7816.SelectByAID(b.Class, b.Profile.AID)
}

// Authenticate builds the command presenting id to the chip: VERIFY with the identifier
// itself, or EXTERNAL AUTHENTICATE with the derived access key.
// The command is flagged Sensitive. Errors are *carderr.AuthError and never carry id.
func (b Builder) Authenticate(id jpcard.CardIdentifier) (*iso7816.CommandAPDU, error) {
	if id.IsZero() || id.CardType() != b.Profile.Type {
		return nil, &carderr.AuthError{
			Step:        "identifier",
			RetriesLeft: -1,
			Reason:      fmt.Sprintf("identifier not checked for %s", b.Profile.Type),
			Err:         carderr.ErrInvalidIdentifierFormat,
		}
	}

	switch b.Profile.Auth {
	case jpcard.AuthVerify:
		cmd, err := iso7816.Verify(b.Class, b.Profile.AuthReference, id.Secret())
		if err != nil {
			return nil, &carderr.AuthError{Step: "verify", RetriesLeft: -1, Reason: "cannot encode VERIFY", Err: carderr.ErrInvalidIdentifierFormat}
		}
		return cmd, nil

	case jpcard.AuthExternal:
		if b.Keys == nil {
			return nil, &carderr.AuthError{Step: "derive-key", RetriesLeft: -1, Reason: "no access key deriver configured", Err: carderr.ErrKeyDerivation}
		}
		key, err := b.Keys.DeriveKey(id)
		if err != nil || len(key) != jpcard.AccessKeyLength {
			return nil, &carderr.AuthError{Step: "derive-key", RetriesLeft: -1, Err: carderr.ErrKeyDerivation}
		}
		cmd, err := iso7816.ExternalAuthenticate(b.Class, b.Profile.AuthReference, key)
		if err != nil {
			return nil, &carderr.AuthError{Step: "external-authenticate", RetriesLeft: -1, Reason: "cannot encode EXTERNAL AUTHENTICATE", Err: carderr.ErrKeyDerivation}
		}
		return cmd, nil

	default:
		return nil, &carderr.AuthError{Step: "authenticate", RetriesLeft: -1, Reason: b.Profile.Auth.String(), Err: carderr.ErrInvalidIdentifierFormat}
	}
}

// SelectDataObject selects the elementary file of d.
func (b Builder) SelectDataObject(d jpcard.DataObjectDescriptor) *iso7816.CommandAPDU {
	return iso7816.SelectEF(b.Class, d.FileID)
}

// ReadChunk reads length bytes at offset of the selected file. length is capped at
// MaxChunkLength. An offset outside the 15-bit range is a *carderr.ReadError.
func (b Builder) ReadChunk(offset, length int) (*iso7816.CommandAPDU, error) {
	if length > MaxChunkLength {
		length = MaxChunkLength
	}

	cmd, err := iso7816.ReadBinary(b.Class, offset, length)
	if err != nil {
		return nil, &carderr.ReadError{Offset: offset, Err: carderr.ErrLengthMismatch, Cause: err}
	}
	return cmd, nil
}
