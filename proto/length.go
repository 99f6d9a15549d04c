// Package proto implements the MikroTik RouterOS API wire format: the
// variable-length word prefix, word encoding, and the sentence framing
// built on top of them.
package proto

import "fmt"

// EncodeLength returns the shortest RouterOS length-prefix encoding of l.
//
// The encoding uses a unary prefix in the first byte's high bits to pick
// between 1 and 5 total bytes; see the table in the protocol notes.
func EncodeLength(l int) []byte {
	switch {
	case l < 0x80:
		return []byte{byte(l)}
	case l < 0x4000:
		return []byte{byte(l>>8) | 0x80, byte(l)}
	case l < 0x200000:
		return []byte{byte(l>>16) | 0xC0, byte(l >> 8), byte(l)}
	case l < 0x10000000:
		return []byte{byte(l>>24) | 0xE0, byte(l >> 16), byte(l >> 8), byte(l)}
	default:
		return []byte{0xF0, byte(l >> 24), byte(l >> 16), byte(l >> 8), byte(l)}
	}
}

// PrefixSize returns the number of bytes EncodeLength(l) would produce,
// without allocating.
func PrefixSize(l int) int {
	switch {
	case l < 0x80:
		return 1
	case l < 0x4000:
		return 2
	case l < 0x200000:
		return 3
	case l < 0x10000000:
		return 4
	default:
		return 5
	}
}

// DecodeLength decodes a length prefix from the start of buf.
//
// It returns the number of prefix bytes consumed and the decoded value.
// If buf does not yet contain a full prefix, ok is false and err is nil;
// the caller must buffer buf and retry once more bytes arrive. The buffer
// is never mutated and no state is advanced on insufficient input, per the
// conservative re-implementation called for when a length prefix spans a
// read boundary. If the lead byte does not match any of the five defined
// patterns (the spec only assigns 0xF0 to the five-byte form; 0xF1-0xFF
// are undefined), ok is false and err is a non-nil *ErrProtocolViolation.
func DecodeLength(buf []byte) (n int, length int, ok bool, err error) {
	if len(buf) == 0 {
		return 0, 0, false, nil
	}
	b0 := buf[0]
	var size int
	switch {
	case b0&0x80 == 0x00:
		size = 1
	case b0&0xC0 == 0x80:
		size = 2
	case b0&0xE0 == 0xC0:
		size = 3
	case b0&0xF0 == 0xE0:
		size = 4
	case b0 == 0xF0:
		size = 5
	default:
		return 0, 0, false, &ErrProtocolViolation{Reason: fmt.Sprintf("undefined length-prefix lead byte 0x%02X", b0)}
	}
	if len(buf) < size {
		return 0, 0, false, nil
	}
	switch size {
	case 1:
		length = int(b0 & 0x7F)
	case 2:
		length = int(b0&0x3F)<<8 | int(buf[1])
	case 3:
		length = int(b0&0x1F)<<16 | int(buf[1])<<8 | int(buf[2])
	case 4:
		length = int(b0&0x0F)<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	case 5:
		length = int(buf[1])<<24 | int(buf[2])<<16 | int(buf[3])<<8 | int(buf[4])
	}
	return size, length, true, nil
}
