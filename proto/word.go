package proto

import (
	"golang.org/x/text/encoding/charmap"
)

// EncodeWord renders a UTF-8 application string as wire bytes: its length
// prefix followed by the payload bytes transcoded to Windows-1252, per the
// word codec (length_prefix ‖ payload_bytes).
func EncodeWord(word string) []byte {
	payload, err := charmap.Windows1252.NewEncoder().String(word)
	if err != nil {
		// Characters with no Windows-1252 representation are vanishingly
		// rare on this wire (router-side strings are device identifiers,
		// interface names, comments); fall back to the raw bytes rather
		// than fail a write outright.
		payload = word
	}
	b := make([]byte, 0, PrefixSize(len(payload))+len(payload))
	b = append(b, EncodeLength(len(payload))...)
	b = append(b, payload...)
	return b
}

// DecodeWordPayload transcodes raw wire payload bytes (Windows-1252) to a
// UTF-8 Go string. ASCII input round-trips as the identity.
func DecodeWordPayload(payload []byte) string {
	s, err := charmap.Windows1252.NewDecoder().Bytes(payload)
	if err != nil {
		return string(payload)
	}
	return string(s)
}
