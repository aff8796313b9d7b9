package solana

import (
	"errors"
	"math"
)

var (
	errShortVecTruncated    = errors.New("compact-u16 truncated")
	errShortVecOverflow     = errors.New("compact-u16 overflows u16")
	errShortVecNonCanonical = errors.New("compact-u16 is not minimally encoded")
)

// appendCompactU16 writes n using the 7-bit little-endian continuation encoding.
func appendCompactU16(dst []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// readCompactU16 returns the decoded value and the number of bytes consumed.
func readCompactU16(b []byte) (int, int, error) {
	var v uint32
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errShortVecTruncated
		}
		c := b[i]
		v |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			if i > 0 && c == 0 {
				return 0, 0, errShortVecNonCanonical
			}
			if v > math.MaxUint16 {
				return 0, 0, errShortVecOverflow
			}
			return int(v), i + 1, nil
		}
	}
	return 0, 0, errShortVecOverflow
}
