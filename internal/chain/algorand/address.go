package algorand

import (
	"crypto/sha512"
	"encoding/base32"
	"fmt"
)

// encodeAddress renders a 32-byte ed25519 public key as Algorand's 58-char
// base32 checksummed address: pubkey || sha512_256(pubkey)[28:32], base32,
// unpadded.
func encodeAddress(pubkey [32]byte) string {
	checksum := sha512.Sum512_256(pubkey[:])
	buf := make([]byte, 0, 36)
	buf = append(buf, pubkey[:]...)
	buf = append(buf, checksum[28:]...)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

// pubkeyFromRaw validates a decoded "snd"/"arcv"/"rcv" field is a 32-byte
// ed25519 public key, the raw form Algorand transactions carry on the wire.
func pubkeyFromRaw(raw []byte) ([32]byte, error) {
	var out [32]byte
	if len(raw) != 32 {
		return out, fmt.Errorf("algorand: address field must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
