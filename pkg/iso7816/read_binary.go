package iso7816

import (
	"fmt"

	"github.com/gregLibert/zairyu-nfc/pkg/bits"
)

// READ BINARY COMMAND LOGIC (ISO 7816-4):
// The READ BINARY command (INS 'B0') reads a byte range of the currently selected
// transparent Elementary File (EF).
//
// P1-P2 (Offset):
// - If bit 8 of P1 is 0, P1-P2 is a 15-bit offset into the current EF.
// - If bit 8 of P1 is 1, bits 5-1 of P1 are a Short File Identifier and P2 is an 8-bit
//   offset. This package only uses the first form, the EF having been selected beforehand.
//
// Le (Ne):
// Number of bytes to read, 1 to 256 in Short Length mode. A card holding fewer bytes
// past the offset answers with what it has and '62 82', or with '6C XX'.

// MaxReadOffset is the largest offset addressable with a 15-bit P1-P2.
const MaxReadOffset = 0x7FFF

// ReadBinary creates a READ BINARY command for length bytes at offset of the current EF.
func ReadBinary(cla Class, offset int, length int) (*CommandAPDU, error) {
	if offset < 0 || offset > MaxReadOffset {
		return nil, fmt.Errorf("offset %d out of range (0-%d)", offset, MaxReadOffset)
	}
	if length < 1 || length > MaxShortLe {
		return nil, fmt.Errorf("length %d out of range (1-%d)", length, MaxShortLe)
	}

	p1, p2 := bits.Split(uint16(offset))

	return NewCommandAPDU(cla, mustInstruction(INS_READ_BINARY), p1, p2, nil, length), nil
}

// ReadBinaryOffset decodes the offset of a READ BINARY command built by ReadBinary.
func ReadBinaryOffset(cmd *CommandAPDU) int {
	return int(bits.Join(cmd.P1&0x7F, cmd.P2))
}
