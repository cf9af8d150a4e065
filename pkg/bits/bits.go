// Package bits holds the small bit and byte helpers shared by the APDU and TLV code.
package bits

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// Set returns b with bit n raised.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Split returns the high and low bytes of a 16-bit value, P1/P2 style.
func Split(v uint16) (hi, lo byte) {
	return byte(v >> 8), byte(v)
}

// Join is the inverse of Split.
func Join(hi, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}

// BigEndian folds a byte slice into an unsigned integer, most significant byte first.
// It reports false when the value does not fit in an int on 32-bit platforms (more than 3 bytes).
func BigEndian(data []byte) (int, bool) {
	if len(data) > 3 {
		return 0, false
	}
	v := 0
	for _, b := range data {
		v = v<<8 | int(b)
	}
	return v, true
}
