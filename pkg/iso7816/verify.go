package iso7816

import "fmt"

// AUTHENTICATION COMMANDS (ISO 7816-4):
//
// VERIFY (INS '20'):
//   P1 = '00', P2 = reference of the verification data on the card
//   (bit 8 set: specific to the current application). The data field carries the
//   reference data in clear. '63 CX' means wrong data with X tries left.
//
// EXTERNAL AUTHENTICATE (INS '82'):
//   P1 = algorithm reference ('00': known before the command), P2 = key reference.
//   The data field carries the authentication data computed by the terminal.
//
// Both commands carry secrets, so they are flagged Sensitive and their data field is
// never printed by String() or Describe().

// Verify creates a VERIFY command against reference P2 with the given reference data.
func Verify(cla Class, reference byte, data []byte) (*CommandAPDU, error) {
	if len(data) == 0 || len(data) > MaxShortLc {
		return nil, fmt.Errorf("verification data length %d out of range (1-%d)", len(data), MaxShortLc)
	}

	cmd := NewCommandAPDU(cla, mustInstruction(INS_VERIFY), 0x00, reference, data, 0)
	cmd.Sensitive = true
	return cmd, nil
}

// ExternalAuthenticate creates an EXTERNAL AUTHENTICATE command with key reference p2.
func ExternalAuthenticate(cla Class, keyReference byte, data []byte) (*CommandAPDU, error) {
	if len(data) == 0 || len(data) > MaxShortLc {
		return nil, fmt.Errorf("authentication data length %d out of range (1-%d)", len(data), MaxShortLc)
	}

	cmd := NewCommandAPDU(cla, mustInstruction(INS_EXTERNAL_AUTHENTICATE), 0x00, keyReference, data, 0)
	cmd.Sensitive = true
	return cmd, nil
}
